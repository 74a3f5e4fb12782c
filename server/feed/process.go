package feed

import (
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
)

const stopGraceDefault = 5 * time.Second

// stderrTail keeps the last maxStderrTail bytes that the decoder wrote to
// stderr. ffmpeg's complaints are the only diagnostics we get out of it, and
// the interesting ones are always at the end.
const maxStderrTail = 4096

type stderrTail struct {
	lock sync.Mutex
	buf  []byte
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.lock.Lock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > maxStderrTail {
		t.buf = t.buf[len(t.buf)-maxStderrTail:]
	}
	t.lock.Unlock()
	return len(p), nil
}

func (t *stderrTail) String() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// process is one generation of the decoder child. The supervisor side is
// deliberately dumb: it can start a process and it can stop one. When to do
// either is the acquisition loop's business.
type process struct {
	log       logs.Log
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    *stderrTail
	startedAt time.Time
	stopGrace time.Duration

	stopOnce sync.Once
}

// decoderArgs builds the ffmpeg invocation for one source URL. Output is raw
// bgr24 frames on stdout, scaled to width x height, audio dropped. For http
// sources we also ask ffmpeg to reconnect on its own across short network
// blips; real outages still surface as stalls and are handled by us.
func decoderArgs(url string, width, height int) []string {
	args := []string{}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_at_eof", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	args = append(args,
		"-i", url,
		"-loglevel", "error",
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-vf", "scale="+strconv.Itoa(width)+":"+strconv.Itoa(height),
		"-",
	)
	return args
}

// startProcess launches the decoder. A launch failure comes back as a
// *StartError. On success, the caller owns the process and must eventually
// call Stop.
func startProcess(log logs.Log, bin string, args []string) (*process, error) {
	p := &process{
		log:       log,
		stderr:    &stderrTail{},
		stopGrace: stopGraceDefault,
	}
	p.cmd = exec.Command(bin, args...)
	p.cmd.Stderr = p.stderr
	// If the decoder leaks a grandchild that inherits stderr, Wait must not
	// hang on the pipe after the decoder itself is dead.
	p.cmd.WaitDelay = stopGraceDefault
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, &StartError{Cause: err}
	}
	p.stdout = stdout
	if err := p.cmd.Start(); err != nil {
		return nil, &StartError{Cause: err, Output: p.stderr.String()}
	}
	p.startedAt = time.Now()
	return p, nil
}

// Stop tears the process down. The sequence mirrors what every decoder
// wrapper ends up converging on: close our end of the pipe so any blocked
// read aborts, ask politely with SIGTERM, and if the process is still around
// after the grace period, SIGKILL it. The child is always reaped, so Stop
// never leaves a zombie. Stop is idempotent and safe from any goroutine.
func (p *process) Stop() {
	p.stopOnce.Do(func() {
		p.stdout.Close()
		p.cmd.Process.Signal(syscall.SIGTERM)

		done := make(chan error, 1)
		go func() {
			done <- p.cmd.Wait()
		}()
		select {
		case <-done:
		case <-time.After(p.stopGrace):
			p.log.Warnf("Decoder ignored SIGTERM for %v. Killing it", p.stopGrace)
			p.cmd.Process.Kill()
			<-done
		}
	})
}

// StderrTail returns whatever the decoder last wrote to stderr.
func (p *process) StderrTail() string {
	return p.stderr.String()
}

// Age is how long this generation has been alive.
func (p *process) Age() time.Duration {
	return time.Since(p.startedAt)
}
