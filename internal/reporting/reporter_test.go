package reporting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type notifications struct {
	messages []string
}

func (n *notifications) NotifyError(message string) {
	n.messages = append(n.messages, message)
}

func TestReporterDeduplicatesInsideWindow(t *testing.T) {
	clock := time.Unix(1000, 0)
	r := NewReporter(zaptest.NewLogger(t), time.Minute)
	r.now = func() time.Time { return clock }

	n := &notifications{}
	r.SetNotifier(n)

	r.Report("controller lost")
	r.Report("controller lost")
	r.Report("pinout broken")

	clock = clock.Add(30 * time.Second)
	r.Report("controller lost")

	clock = clock.Add(31 * time.Second)
	r.Report("controller lost")

	assert.Equal(t, []string{"controller lost", "pinout broken", "controller lost"}, n.messages)
}

func TestReporterWithoutNotifier(t *testing.T) {
	r := NewReporter(zaptest.NewLogger(t), 0)
	assert.Equal(t, DefaultWindow, r.window)
	assert.NotPanics(t, func() { r.Report("anything") })
}
