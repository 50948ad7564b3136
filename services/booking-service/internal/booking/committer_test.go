package booking

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tmarsland/slotbook/services/booking-service/internal/storage"
)

func TestHashToken(t *testing.T) {
	a := HashToken("retry-token-1")
	b := HashToken("retry-token-1")
	c := HashToken("retry-token-2")

	if a != b {
		t.Fatal("same token must hash to the same marker")
	}
	if a == c {
		t.Fatal("different tokens must not collide")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %d chars", len(a))
	}
}

func TestSlotLockKey_UTCNormalized(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	local := time.Date(2026, 3, 2, 9, 0, 0, 0, loc)
	utc := local.UTC()

	if SlotLockKey("t1", "s1", local) != SlotLockKey("t1", "s1", utc) {
		t.Fatal("identical instants must produce identical lock keys")
	}
	if SlotLockKey("t1", "s1", utc) == SlotLockKey("t1", "s2", utc) {
		t.Fatal("different staff must produce different lock keys")
	}
	if SlotLockKey("t1", "s1", utc) == SlotLockKey("t1", "s1", utc.Add(time.Minute)) {
		t.Fatal("different start instants must produce different lock keys")
	}
}

func TestIsSerializationFailure(t *testing.T) {
	serr := &pgconn.PgError{Code: "40001"}
	if !storage.IsSerializationFailure(serr) {
		t.Fatal("SQLSTATE 40001 must classify as serialization failure")
	}
	if !storage.IsSerializationFailure(fmt.Errorf("commit: %w", serr)) {
		t.Fatal("wrapped serialization failures must classify too")
	}
	if storage.IsSerializationFailure(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("unique violations are not serialization failures")
	}
	if storage.IsSerializationFailure(errors.New("plain")) {
		t.Fatal("plain errors are not serialization failures")
	}
}
