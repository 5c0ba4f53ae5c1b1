package eventbus

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/microplan/pkg/logging"
)

type teamMoved struct {
	teamID string
}

type planningPublished struct {
	planningID string
}

func TestPublisher_Publish_NoMatchingSubscribers(t *testing.T) {
	logBuffer := bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(&logBuffer)
	log.SetLevel(logrus.WarnLevel)

	publisher := NewEventPublisher(log)
	publisher.Subscribe(func(e *teamMoved) {
		t.Error("should not be called")
	})
	publisher.Publish(&planningPublished{planningID: "p1"})

	if output := logBuffer.String(); output == "" {
		t.Error("should have logged")
	} else if !strings.Contains(output, "eventbus.Publish: no matching subscribers") {
		t.Errorf("should have contained no matching subscribers but got: %q", output)
	}
}

func TestPublisher_Subscribe(t *testing.T) {
	publisher := NewEventPublisher(logging.ConsoleLogger(logrus.WarnLevel))
	called := false
	var got string
	publisher.Subscribe(func(e *teamMoved) {
		called = true
		got = e.teamID
	})
	publisher.Publish(&teamMoved{teamID: "t1"})
	if !called {
		t.Error("should be called")
	}
	if got != "t1" {
		t.Errorf("expected: %v, got: %v", "t1", got)
	}
}

func TestPublisher_Unsubscribe(t *testing.T) {
	publisher := NewEventPublisher(logging.ConsoleLogger(logrus.PanicLevel))
	handler := func(e *teamMoved) {
		t.Error("should not be called after unsubscribe")
	}
	publisher.Subscribe(handler)
	if publisher.SubscribersCount() != 1 {
		t.Errorf("expected 1 subscriber, got %d", publisher.SubscribersCount())
	}
	publisher.Unsubscribe(handler)
	if publisher.SubscribersCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", publisher.SubscribersCount())
	}
}

func TestMatchSignature(t *testing.T) {
	if !MatchSignature(func(e *teamMoved) {}, []interface{}{&teamMoved{}}) {
		t.Error("expected true")
	}
	if MatchSignature(func(e *teamMoved) {}, []interface{}{&planningPublished{}}) {
		t.Error("expected false")
	}
	if MatchSignature(func(e *teamMoved) {}, []interface{}{&teamMoved{}, &teamMoved{}}) {
		t.Error("expected false for arity mismatch")
	}
}
