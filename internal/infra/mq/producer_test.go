package mq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoOpProducer(t *testing.T) {
	var p Producer = NewNoOpProducer()
	require.NoError(t, p.Produce(context.Background(), "t", "k", struct{}{}))
	p.Close()
}
