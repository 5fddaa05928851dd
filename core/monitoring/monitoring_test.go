package monitoring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestViolationTagsComponent(t *testing.T) {
	rec := &Recorder{}
	Init(rec)
	defer Init(NopMonitor{})

	Violation("pool", errors.New("double release"))
	CaptureException(nil, nil)

	if rec.Len() != 1 {
		t.Fatalf("expected 1 capture got %d", rec.Len())
	}
	assert.Equal(t, "pool", rec.Tags[0]["component"])
	assert.Equal(t, "invariant", rec.Tags[0]["kind"])
}

func TestGuardRepanics(t *testing.T) {
	rec := &Recorder{}
	Init(rec)
	defer Init(NopMonitor{})

	assert.PanicsWithValue(t, "boom", func() {
		defer Guard("actor", "V1")
		panic("boom")
	})
	assert.Equal(t, 1, rec.Len())
	assert.Equal(t, "V1", rec.Tags[0]["id"])
}
