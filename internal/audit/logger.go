package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	EventType  string    `json:"event_type"`
	TxHash     string    `json:"tx_hash"`
	UserID     string    `json:"user_id"`
	EntryPoint string    `json:"entry_point"`
	Status     string    `json:"status"`
	Details    any       `json:"details"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogCredit(txHash, userID, entryPoint string, pzo, edu decimal.Decimal) {
	event := Event{
		Timestamp:  time.Now(),
		EventType:  "DEPOSIT_CREDIT",
		TxHash:     txHash,
		UserID:     userID,
		EntryPoint: entryPoint,
		Status:     "CONFIRMED",
		Details: map[string]string{
			"pzo_amount": pzo.String(),
			"edu_amount": edu.String(),
		},
	}
	a.log(event)
}

func (a *Logger) LogReplay(txHash, userID, entryPoint string) {
	event := Event{
		Timestamp:  time.Now(),
		EventType:  "DEPOSIT_REPLAY",
		TxHash:     txHash,
		UserID:     userID,
		EntryPoint: entryPoint,
		Status:     "CONFIRMED",
		Details:    map[string]string{"note": "tx hash already confirmed, no-op"},
	}
	a.log(event)
}

func (a *Logger) LogError(txHash, userID, entryPoint string, err error) {
	event := Event{
		Timestamp:  time.Now(),
		EventType:  "ERROR",
		TxHash:     txHash,
		UserID:     userID,
		EntryPoint: entryPoint,
		Status:     "FAILED",
		Details:    map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) LogRateChange(adminID string, details any) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "EXCHANGE_RATE_CHANGE",
		UserID:    adminID,
		Status:    "SUCCESS",
		Details:   details,
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
