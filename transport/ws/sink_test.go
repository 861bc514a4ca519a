package ws

import (
	"chat-hub/domain/event"
	"chat-hub/errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSink_Full_Then_Closed(t *testing.T) {
	req := require.New(t)
	sink := NewSink(1)
	evt := event.PresenceChanged{UserID: "alice"}

	req.NoError(sink.Deliver(evt))
	req.ErrorIs(sink.Deliver(evt), errors.ErrSlowConsumer)

	sink.Close()
	sink.Close()
	req.ErrorIs(sink.Deliver(evt), errors.ErrConnectionClosed)
	<-sink.Done()
}
