package main

import (
	"fmt"
	"log"
	"strings"

	"swipeclock/model"
	"swipeclock/reader"
)

// adminFlags are the one-shot command line operations. When any is set the
// program performs them and exits instead of running the clock.
type adminFlags struct {
	Employee   string
	Register   string
	Deactivate string
	Enroll     string
}

func (f adminFlags) any() bool {
	return f.Employee != "" || f.Register != "" || f.Deactivate != "" || f.Enroll != ""
}

func (app *App) runAdmin(f adminFlags) error {
	if f.Employee != "" {
		if err := app.addEmployee(f.Employee); err != nil {
			return err
		}
	}
	if f.Register != "" {
		card, employee, err := splitRegister(f.Register)
		if err != nil {
			return err
		}
		if err := app.registerCard(card, employee); err != nil {
			return err
		}
	}
	if f.Deactivate != "" {
		if err := app.registry.Deactivate(app.ctx, f.Deactivate); err != nil {
			return fmt.Errorf("deactivate %s: %w", f.Deactivate, err)
		}
		log.Printf("Card %s deactivated", f.Deactivate)
	}
	if f.Enroll != "" {
		r, err := reader.New(app.cfg.Reader)
		if err != nil {
			return fmt.Errorf("open reader: %w", err)
		}
		defer r.Close()
		app.reader = r
		if err := app.enroll(f.Enroll); err != nil {
			return err
		}
	}
	return nil
}

// addEmployee parses ID:First:Last. The last name may be empty.
func (app *App) addEmployee(arg string) error {
	parts := strings.SplitN(arg, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("employee must be ID:First:Last, got %q", arg)
	}
	e := model.Employee{ID: parts[0], FirstName: parts[1]}
	if len(parts) == 3 {
		e.LastName = parts[2]
	}
	if err := app.store.UpsertEmployee(app.ctx, e); err != nil {
		return fmt.Errorf("save employee %s: %w", e.ID, err)
	}
	log.Printf("Employee %s saved: %s", e.ID, e.DisplayName())
	return nil
}

// splitRegister splits CARD:EMPLOYEE on the last colon, so a card written
// as 04:A1:B2:C3 still parses.
func splitRegister(s string) (string, string, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("register must be CARD:EMPLOYEE, got %q", s)
	}
	return s[:i], s[i+1:], nil
}

func (app *App) registerCard(card, employee string) error {
	c, err := app.registry.Register(app.ctx, card, employee)
	if err != nil {
		return fmt.Errorf("register %s: %w", card, err)
	}
	log.Printf("Card %s registered to %s", c.CardIdentifier, employee)
	return nil
}

// enroll waits for one tap on the reader and registers that card.
func (app *App) enroll(employee string) error {
	fmt.Printf("Tap the card for %s\n", employee)
	card, err := app.reader.WaitForCard(app.ctx)
	if err != nil {
		return fmt.Errorf("read card: %w", err)
	}
	return app.registerCard(card, employee)
}
