package purity

import (
	"testing"

	"github.com/latchvision/latchvision/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_NoAttemptsPasses(t *testing.T) {
	m := New()
	assert.NoError(t, m.Guard())
}

func TestControl_CountsAndBlocksDial(t *testing.T) {
	m := New()
	err := m.Control("tcp", "10.0.0.1:443", nil)
	require.Error(t, err)
	assert.Equal(t, 1, m.Sockets())
	assert.Equal(t, 0, m.DNS())
}

func TestControl_CountsDNSPortSeparately(t *testing.T) {
	m := New()
	_ = m.Control("udp", "8.8.8.8:53", nil)
	assert.Equal(t, 1, m.Sockets())
	assert.Equal(t, 1, m.DNS())
}

func TestGuard_AnyAttemptRaisesPurityViolation(t *testing.T) {
	m := New()
	_ = m.Control("tcp", "example.com:443", nil)

	err := m.Guard()
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindPurityViolation, e.Kind)
}

func TestReport_MatchesCounts(t *testing.T) {
	m := New()
	_ = m.Control("tcp", "example.com:443", nil)
	_ = m.Control("udp", "1.1.1.1:53", nil)

	s := m.Report()
	assert.Equal(t, 2, s.SocketsBlocked)
	assert.Equal(t, 1, s.DNSBlocked)
}
