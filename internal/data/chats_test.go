package data

import (
	"errors"
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestTransactionsUnsupported(t *testing.T) {
	illegal := mongo.CommandError{Code: 20, Name: "IllegalOperation", Message: "Transaction numbers are only allowed on a replica set member or mongos"}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"standalone server", illegal, true},
		{"wrapped", fmt.Errorf("commit: %w", illegal), true},
		{"other command error", mongo.CommandError{Code: 11000, Name: "DuplicateKey"}, false},
		{"plain error", errors.New("connection reset"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := transactionsUnsupported(tt.err); got != tt.want {
				t.Fatalf("transactionsUnsupported(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
