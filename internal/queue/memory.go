package queue

import (
	"context"
	"errors"
)

// ErrQueueFull is returned by Memory.Enqueue when the buffer is exhausted.
var ErrQueueFull = errors.New("queue is full")

// Memory is an in-process queue for single-binary local runs. Messages are
// lost on restart.
type Memory struct {
	ch chan string
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 64
	}
	return &Memory{ch: make(chan string, size)}
}

func (m *Memory) Enqueue(ctx context.Context, job Job) error {
	b, err := Encode(job)
	if err != nil {
		return err
	}
	select {
	case m.ch <- string(b):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (m *Memory) Receive(ctx context.Context) (Delivery, error) {
	select {
	case raw := <-m.ch:
		return newDelivery(raw), nil
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

func (m *Memory) Ack(ctx context.Context, d Delivery) error { return nil }

// Len reports the number of pending messages.
func (m *Memory) Len() int { return len(m.ch) }
