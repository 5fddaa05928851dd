package mqtt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremon "github.com/kilianp07/cityfleet/core/monitoring"
	coremqtt "github.com/kilianp07/cityfleet/core/mqtt"
)

func TestPublishErrorCaptured(t *testing.T) {
	mc := &fakePaho{publishErrs: []error{fmt.Errorf("net fail"), fmt.Errorf("net fail")}}
	useFake(t, mc)
	mon := &coremon.Recorder{}
	coremon.Init(mon)
	defer coremon.Init(coremon.NopMonitor{})

	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1})
	require.NoError(t, err)

	err = cli.Publish("cityfleet/events/lifecycle", []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, coremqtt.ErrPublishFailed))
	require.Equal(t, 1, mon.Len())
	assert.Equal(t, "mqtt", mon.Tags[0]["module"])
	assert.Equal(t, "cityfleet/events/lifecycle", mon.Tags[0]["topic"])
	assert.Len(t, mc.published, 2)
}

func TestMockClientDeliversAndFails(t *testing.T) {
	m := NewMockClient()
	var got string
	require.NoError(t, m.Subscribe("t/x", func(_ string, p []byte) { got = string(p) }))
	assert.True(t, m.Deliver("t/x", []byte("hi")))
	assert.False(t, m.Deliver("t/y", nil))
	assert.Equal(t, "hi", got)

	m.FailTopics["bad"] = true
	assert.Error(t, m.Publish("bad", nil))
	require.NoError(t, m.Publish("good", []byte("1")))
	assert.Equal(t, []Published{{Topic: "good", Payload: []byte("1")}}, m.Sent())
}
