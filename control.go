package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"swipeclock/model"
)

const (
	actionRegister   = "register"
	actionDeactivate = "deactivate"

	// Maximum age of a control message before it is rejected
	controlWindow = 5 * time.Minute
)

// CardRequest is the payload of a remote card register/deactivate command.
type CardRequest struct {
	Card      string `json:"card"`
	Employee  string `json:"employee,omitempty"`
	Timestamp uint64 `json:"timestamp"`
	Signature string `json:"signature"`
}

// CardResponse is published on .../card/result after a control command.
type CardResponse struct {
	Action  string `json:"action"`
	Card    string `json:"card"`
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// signCardRequest returns the HMAC-SHA256 of action+card+employee+timestamp
// as hex and base64.
func signCardRequest(base64Secret, action, card, employee string, ts uint64) (string, string, error) {
	secret, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return "", "", fmt.Errorf("invalid base64 secret: %w", err)
	}
	if len(secret) == 0 {
		return "", "", fmt.Errorf("secret cannot be empty")
	}

	msg := make([]byte, 0, len(action)+len(card)+len(employee)+8)
	msg = append(msg, action...)
	msg = append(msg, card...)
	msg = append(msg, employee...)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], ts)
	msg = append(msg, tsBuf[:]...)

	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	sum := mac.Sum(nil)

	return hex.EncodeToString(sum), base64.StdEncoding.EncodeToString(sum), nil
}

// verifyCardRequest accepts a hex or base64 signature.
func verifyCardRequest(base64Secret, action string, req CardRequest) error {
	sigHex, sigBase64, err := signCardRequest(base64Secret, action, req.Card, req.Employee, req.Timestamp)
	if err != nil {
		return err
	}

	if decoded, err := hex.DecodeString(req.Signature); err == nil {
		expected, _ := hex.DecodeString(sigHex)
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return nil
		}
	}

	if decoded, err := base64.StdEncoding.DecodeString(req.Signature); err == nil {
		expected, _ := base64.StdEncoding.DecodeString(sigBase64)
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return nil
		}
	}

	return fmt.Errorf("signature verification failed")
}

// checkCardRequest decodes and authenticates a control payload.
func (app *App) checkCardRequest(action string, payload []byte) (CardRequest, error) {
	var req CardRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("decode %s request: %w", action, err)
	}
	if app.cfg.ControlSecret == "" {
		return req, fmt.Errorf("remote card control disabled")
	}

	ts := time.Unix(int64(req.Timestamp), 0)
	if d := app.now().Sub(ts); d > controlWindow || d < -controlWindow {
		return req, fmt.Errorf("timestamp outside window: %s", ts.Format(time.RFC3339))
	}

	if err := verifyCardRequest(app.cfg.ControlSecret, action, req); err != nil {
		return req, err
	}
	return req, nil
}

// handleControl runs a remote register or deactivate and publishes the
// outcome.
func (app *App) handleControl(action string, payload []byte) CardResponse {
	resp := CardResponse{Action: action}

	req, err := app.checkCardRequest(action, payload)
	resp.Card = req.Card
	if err != nil {
		log.Printf("Control %s rejected: %v", action, err)
		resp.Reason = "unauthorized"
		resp.Message = err.Error()
		app.publishControlResult(resp)
		return resp
	}

	switch action {
	case actionRegister:
		var card model.Card
		card, err = app.registry.Register(app.ctx, req.Card, req.Employee)
		if err == nil {
			resp.Card = card.CardIdentifier
			log.Printf("Card %s registered to %s", card.CardIdentifier, req.Employee)
		}
	case actionDeactivate:
		err = app.registry.Deactivate(app.ctx, req.Card)
		if err == nil {
			log.Printf("Card %s deactivated", req.Card)
		}
	default:
		err = fmt.Errorf("unknown control action %q", action)
	}

	if err != nil {
		log.Printf("Control %s %s: %v", action, req.Card, err)
		resp.Reason, resp.Message = describeError(err)
	} else {
		resp.OK = true
	}
	app.publishControlResult(resp)
	return resp
}

func (app *App) publishControlResult(resp CardResponse) {
	if err := app.mqtt.PublishJSON(app.mqtt.ControlTopic("card/result"), resp); err != nil {
		log.Printf("Publish control result: %v", err)
	}
}
