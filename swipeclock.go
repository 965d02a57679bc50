package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swipeclock/attendance"
	"swipeclock/indicator"
	"swipeclock/mqtt"
	"swipeclock/reader"
	"swipeclock/registry"
	"swipeclock/store"
)

var myBuild string

// openStore is replaced in tests.
var openStore = store.Open

// App holds the application state and dependencies.
type App struct {
	cfg       *Config
	mqtt      *mqtt.Client
	reader    reader.CardReader
	indicator indicator.Indicator
	store     store.Backend
	registry  *registry.Registry
	processor *attendance.Processor
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

func newApp(cfg *Config, backend store.Backend) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// Replaced by the configured client in main; disabled until then.
	client, err := mqtt.New(mqtt.Config{}, cfg.ClientID, mqtt.Handlers{})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	reg := registry.New(backend)

	return &App{
		cfg:       cfg,
		mqtt:      client,
		store:     backend,
		registry:  reg,
		processor: attendance.NewProcessor(reg, backend, attendance.WithLocation(loc)),
		indicator: &indicator.Noop{},
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code. Every path out of it closes the store.
func run(args []string) int {
	fmt.Printf("swipeclock build %s\n", myBuild)

	flags := flag.NewFlagSet("swipeclock", flag.ContinueOnError)
	cfgfile := flags.String("cfg", "swipeclock.cfg", "Config file")
	employee := flags.String("employee", "", "Create or update an employee: ID:First:Last")
	register := flags.String("register", "", "Register a card: CARD:EMPLOYEE")
	deactivate := flags.String("deactivate", "", "Deactivate a card")
	enroll := flags.String("enroll", "", "Wait for a tap and register that card to EMPLOYEE")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := LoadConfig(*cfgfile)
	if err != nil {
		log.Printf("Load config: %v", err)
		return 1
	}

	backend, err := openStore(cfg.Store)
	if err != nil {
		log.Printf("Open store: %v", err)
		return 1
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Printf("Close store: %v", err)
		}
	}()

	app, err := newApp(cfg, backend)
	if err != nil {
		log.Printf("Init app: %v", err)
		return 1
	}
	defer app.cancel()

	admin := adminFlags{
		Employee:   *employee,
		Register:   *register,
		Deactivate: *deactivate,
		Enroll:     *enroll,
	}
	if admin.any() {
		if err := app.runAdmin(admin); err != nil {
			log.Printf("%v", err)
			return 1
		}
		return 0
	}

	// Initialize indicator (LEDs, neopixels)
	app.indicator, err = indicator.New(cfg.Indicator)
	if err != nil {
		log.Printf("Init indicator: %v", err)
		return 1
	}
	defer app.indicator.Release()
	app.indicator.ConnectionLost() // Start with connection lost state

	// Initialize card reader
	app.reader, err = reader.New(cfg.Reader)
	if err != nil {
		log.Printf("Init reader: %v", err)
		return 1
	}

	// Initialize MQTT
	app.mqtt, err = mqtt.New(cfg.MQTT, cfg.ClientID, mqtt.Handlers{
		OnConnect:    app.onMQTTConnect,
		OnDisconnect: app.onMQTTDisconnect,
	})
	if err != nil {
		log.Printf("Init MQTT: %v", err)
		app.reader.Close()
		return 1
	}
	app.routeControl()

	// Start background goroutines
	go func() {
		if err := app.mqtt.Connect(); err != nil {
			log.Printf("MQTT connect: %v", err)
		}
	}()
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		app.cardListener()
	}()
	go app.pingSender()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	app.shutdown(listenerDone, 5*time.Second)
	fmt.Println("Shutdown complete")
	return 0
}

// shutdown stops the background work and releases the devices. The reader
// is only closed once the listener has returned from WaitForCard; if it
// does not return within grace the reader is left to process exit.
func (app *App) shutdown(listenerDone <-chan struct{}, grace time.Duration) {
	app.cancel()

	stopped := true
	select {
	case <-listenerDone:
	case <-time.After(grace):
		log.Println("Card listener did not stop in time, leaving reader open")
		stopped = false
	}

	app.mqtt.Disconnect()
	if stopped {
		if err := app.reader.Close(); err != nil {
			log.Printf("Close reader: %v", err)
		}
	}
	app.indicator.Shutdown()
}

func (app *App) onMQTTConnect() {
	app.indicator.Connected()
}

func (app *App) onMQTTDisconnect() {
	app.indicator.ConnectionLost()
}

// routeControl wires the remote card management topics.
func (app *App) routeControl() {
	for _, action := range []string{actionRegister, actionDeactivate} {
		app.mqtt.Handle(app.mqtt.ControlTopic("card/"+action), func(payload []byte) {
			app.handleControl(action, payload)
		})
	}
}

// cardListener is the single sequential read-then-process loop. A card is
// fully processed before the reader is asked for the next one.
func (app *App) cardListener() {
	for {
		select {
		case <-app.ctx.Done():
			return
		default:
		}

		card, err := app.reader.WaitForCard(app.ctx)
		if err != nil {
			if app.ctx.Err() != nil {
				return
			}
			var perr *reader.ProtocolError
			if errors.As(err, &perr) {
				log.Printf("Read card: %v", err)
				app.showRejected("", err)
				continue
			}
			log.Printf("Read card: %v", err)
			app.sleep(time.Second)
			continue
		}

		log.Printf("Card read: %s", card)
		app.handleSwipe(card)
	}
}

// handleSwipe processes one card and drives the feedback for it.
func (app *App) handleSwipe(card string) (attendance.Result, error) {
	res, err := app.processor.Swipe(app.ctx, card)
	if err != nil {
		log.Printf("Card %s: %v", card, err)
		app.publishRejected(card, err)
		app.showRejected(card, err)
		return res, err
	}

	log.Printf("Card %s: %s %s at %s", card, res.EmployeeName, res.Event, res.Time.Format(time.RFC3339))
	if err := app.mqtt.PublishJSON(app.mqtt.StatusTopic("swipe"), res); err != nil {
		log.Printf("Publish swipe: %v", err)
	}

	info := &indicator.SwipeInfo{Name: res.EmployeeName, Card: card, Message: swipeMessage(res)}
	switch res.Event {
	case attendance.EventEntry:
		app.indicator.Entry(info)
	case attendance.EventExit:
		app.indicator.Exit(info)
	}
	app.sleep(time.Duration(app.cfg.FeedbackSecs) * time.Second)
	app.indicator.Idle()
	return res, nil
}

func (app *App) showRejected(card string, err error) {
	_, message := describeError(err)
	app.indicator.Rejected(&indicator.SwipeInfo{Card: card, Message: message})
	app.sleep(time.Duration(app.cfg.FeedbackSecs) * time.Second)
	app.indicator.Idle()
}

// Rejection is the payload published for a swipe that recorded nothing.
type Rejection struct {
	Card    string    `json:"card"`
	Reason  string    `json:"reason"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

func (app *App) publishRejected(card string, err error) {
	reason, message := describeError(err)
	rej := Rejection{Card: card, Reason: reason, Message: message, Time: app.now()}
	if err := app.mqtt.PublishJSON(app.mqtt.StatusTopic("rejected"), rej); err != nil {
		log.Printf("Publish rejection: %v", err)
	}
}

func (app *App) pingSender() {
	ticker := time.NewTicker(120 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			app.mqtt.Publish(app.mqtt.StatusTopic("ping"), `{"status":"ok"}`)
		}
	}
}

// sleep waits for d or until shutdown.
func (app *App) sleep(d time.Duration) {
	select {
	case <-app.ctx.Done():
	case <-time.After(d):
	}
}
