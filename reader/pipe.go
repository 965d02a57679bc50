package reader

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"
)

// Pipe implements CardReader on a named pipe, for bench testing without
// hardware. Each line written to the pipe is a command:
//
//	card <hex>    - a card with the given UID was presented
//	tag <hex>     - alias for card
//	rfid <hex>    - alias for card
//
// Blank lines and lines starting with # are ignored.
type Pipe struct {
	path  string
	lines chan string
	done  chan struct{}
}

// NewPipe creates the named pipe and starts reading from it.
func NewPipe(path string) (*Pipe, error) {
	if path == "" {
		return nil, fmt.Errorf("pipe reader needs a device path")
	}

	// Remove existing pipe if it exists
	os.Remove(path)

	if err := syscall.Mkfifo(path, 0666); err != nil {
		return nil, fmt.Errorf("create named pipe %s: %w", path, err)
	}

	p := &Pipe{
		path:  path,
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	go p.listen()
	log.Printf("Card pipe listening on %s", path)
	return p, nil
}

func (p *Pipe) listen() {
	for {
		// Blocks until a writer connects.
		file, err := os.OpenFile(p.path, os.O_RDONLY, 0)
		if err != nil {
			select {
			case <-p.done:
				return
			default:
			}
			log.Printf("Card pipe open error: %v", err)
			continue
		}

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			select {
			case p.lines <- scanner.Text():
			case <-p.done:
				file.Close()
				return
			}
		}
		file.Close()

		select {
		case <-p.done:
			return
		default:
		}
	}
}

// WaitForCard implements CardReader.WaitForCard.
func (p *Pipe) WaitForCard(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-p.done:
			return "", fmt.Errorf("card pipe closed")
		case line := <-p.lines:
			id, ok, err := parsePipeLine(line)
			if err != nil {
				log.Printf("Card pipe parse error: %v", err)
				continue
			}
			if ok {
				return id, nil
			}
		}
	}
}

// parsePipeLine returns ok=false for lines that carry no card.
func parsePipeLine(line string) (string, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false, nil
	}

	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case "card", "tag", "rfid":
		if len(parts) < 2 {
			return "", false, fmt.Errorf("%s requires a card UID", parts[0])
		}
		uid := strings.NewReplacer(":", "", "-", "").Replace(strings.Join(parts[1:], ""))
		id, err := decodeDigits(uid, true)
		if err != nil {
			return "", false, err
		}
		return id, true, nil
	default:
		return "", false, fmt.Errorf("unknown command: %s", parts[0])
	}
}

// Close stops the listener and removes the pipe.
func (p *Pipe) Close() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	close(p.done)

	// Unblock a listener waiting for a writer.
	if f, err := os.OpenFile(p.path, os.O_WRONLY|syscall.O_NONBLOCK, 0); err == nil {
		f.Close()
	}
	return os.Remove(p.path)
}
