package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProducerMessageOrdersHeadersAndKeys(t *testing.T) {
	msg := producerMessage("chat.events.v1", "conv-1", []byte(`{}`), map[string]string{"origin": "node-a", "ce-type": "chat.message_sent"})

	assert.Equal(t, "chat.events.v1", msg.Topic)
	key, err := msg.Key.Encode()
	assert.NoError(t, err)
	assert.Equal(t, "conv-1", string(key))
	assert.Len(t, msg.Headers, 2)
	assert.Equal(t, "ce-type", string(msg.Headers[0].Key))
	assert.Equal(t, "node-a", string(msg.Headers[1].Value))

	assert.Nil(t, producerMessage("t", "", nil, nil).Key)
}
