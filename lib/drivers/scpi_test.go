package drivers

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLink collects writes and scripts reads, standing in for a serial
// port or usbtmc node.
type fakeLink struct {
	wrote  bytes.Buffer
	reads  *bytes.Buffer
	closed bool
}

func newFakeLink(responses string) *fakeLink {
	return &fakeLink{reads: bytes.NewBufferString(responses)}
}

func (l *fakeLink) Write(p []byte) (int, error) { return l.wrote.Write(p) }
func (l *fakeLink) Read(p []byte) (int, error)  { return l.reads.Read(p) }
func (l *fakeLink) Close() error                { l.closed = true; return nil }

func TestDeviceCommand(t *testing.T) {
	link := newFakeLink("")
	dev := NewDevice(link)

	require.NoError(t, dev.Command("SYST:REM"))
	require.NoError(t, dev.Command("CONF:%s %d", "VOLT:DC", 10))
	assert.Equal(t, "SYST:REM\nCONF:VOLT:DC 10\n", link.wrote.String())
}

func TestDeviceCommandTrimsWhitespace(t *testing.T) {
	link := newFakeLink("")
	dev := NewDevice(link)

	require.NoError(t, dev.Command("  *RST  \n"))
	assert.Equal(t, "*RST\n", link.wrote.String())
}

func TestDeviceQuery(t *testing.T) {
	link := newFakeLink("+1.234500E-02\n")
	dev := NewDevice(link)

	s, err := dev.Query("MEAS:CURR:DC?")
	require.NoError(t, err)
	assert.Equal(t, "MEAS:CURR:DC?\n", link.wrote.String())
	assert.Equal(t, "+1.234500E-02\n", s)
}

func TestDeviceQueryEOFWithData(t *testing.T) {
	// A link that reports EOF with the final bytes instead of a
	// terminator still yields the data.
	link := newFakeLink("+2.5E+01")
	dev := NewDevice(link)

	s, err := dev.Query("MEAS:TEMP?")
	require.NoError(t, err)
	assert.Equal(t, "+2.5E+01", s)
}

func TestDeviceTerminatorOptions(t *testing.T) {
	link := newFakeLink("QM,+0021.53 DEG C\rQM,+0021.60 DEG C\r")
	dev := NewDevice(link, WithWriteTerminator('\r'), WithReadTerminator('\r'))

	s, err := dev.Query("QM")
	require.NoError(t, err)
	assert.Equal(t, "QM\r", link.wrote.String())
	assert.Equal(t, "QM,+0021.53 DEG C\r", s)

	// The buffered reader must survive across queries.
	s, err = dev.Query("QM")
	require.NoError(t, err)
	assert.Equal(t, "QM,+0021.60 DEG C\r", s)
}

var _ io.ReadWriteCloser = (*fakeLink)(nil)
