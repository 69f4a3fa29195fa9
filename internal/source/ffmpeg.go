package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/sua-org/edge-agent/internal/core"
)

// FFmpegCommand pode ser trocado (ex.: caminho absoluto).
var FFmpegCommand = "ffmpeg"

func init() {
	for _, scheme := range []string{"rtsp", "rtsps", "http", "https"} {
		Register(scheme, Factory{Open: openFFmpeg, Validate: requireHost})
	}
}

// FFmpegSource roda um ffmpeg por câmera gerando MJPEG em stdout e guarda só
// o frame mais recente. Se o ffmpeg cair, sobe de novo com backoff.
type FFmpegSource struct {
	cameraID string
	args     []string

	mu     sync.Mutex
	latest []byte
	at     time.Time
	seq    uint64
	served uint64
	lastEr error

	cancel context.CancelFunc
	done   chan struct{}
}

func openFFmpeg(p Params) (Source, error) {
	args := ffmpegArgs(p)
	ctx, cancel := context.WithCancel(context.Background())
	s := &FFmpegSource{
		cameraID: p.CameraID,
		args:     args,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(ctx)
	log.Printf("[source] %s: ffmpeg iniciado para %s", p.CameraID, p.Locator.Redacted())
	return s, nil
}

func ffmpegArgs(p Params) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if p.Locator.Scheme == "rtsp" || p.Locator.Scheme == "rtsps" {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args, "-i", p.Raw)
	if p.TargetFPS > 0 {
		args = append(args, "-r", strconv.FormatFloat(p.TargetFPS, 'f', -1, 64))
	}
	return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "pipe:1")
}

func (s *FFmpegSource) run(ctx context.Context) {
	defer close(s.done)
	backoff := time.Second
	for {
		started := time.Now()
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		s.lastEr = err
		s.mu.Unlock()
		log.Printf("[source] %s: ffmpeg saiu: %v (reinício em %s)", s.cameraID, err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if time.Since(started) > time.Minute {
			backoff = time.Second
		} else if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *FFmpegSource) runOnce(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, FFmpegCommand, s.args...)
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{buf: &stderr, max: 4096}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	splitErr := SplitJPEG(stdout, s.publish)
	waitErr := cmd.Wait()
	if waitErr != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("%w: %s", waitErr, msg)
		}
		return waitErr
	}
	if splitErr != nil {
		return splitErr
	}
	return io.EOF
}

func (s *FFmpegSource) publish(jpg []byte) {
	s.mu.Lock()
	s.latest = jpg
	s.at = time.Now()
	s.seq++
	s.mu.Unlock()
}

func (s *FFmpegSource) Next(ctx context.Context) (*core.Frame, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}
	s.mu.Lock()
	if s.latest == nil || s.seq == s.served {
		s.mu.Unlock()
		return nil, ErrNoFrame
	}
	data, at, seq := s.latest, s.at, s.seq
	s.served = seq
	s.mu.Unlock()

	f, err := core.DecodeJPEGFrame(s.cameraID, seq, data, at)
	if err != nil {
		return nil, fmt.Errorf("frame %d inválido: %w", seq, err)
	}
	return f, nil
}

func (s *FFmpegSource) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// maxFrameBytes limita um frame; acima disso o stream é considerado corrompido.
const maxFrameBytes = 16 << 20

// SplitJPEG lê um stream MJPEG (JPEGs concatenados) e chama onFrame com cada
// imagem completa (SOI 0xFFD8 até EOI 0xFFD9).
func SplitJPEG(r io.Reader, onFrame func([]byte)) error {
	return splitJPEG(r, maxFrameBytes, onFrame)
}

// splitJPEG descarta o frame que passar de limit e volta a procurar um SOI.
func splitJPEG(r io.Reader, limit int, onFrame func([]byte)) error {
	br := bufio.NewReaderSize(r, 1<<16)
	var cur []byte
	inFrame := false
	var prev byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if !inFrame {
			if prev == 0xFF && b == 0xD8 {
				inFrame = true
				cur = append(cur[:0:0], 0xFF, 0xD8)
			}
			prev = b
			continue
		}
		cur = append(cur, b)
		if len(cur) > limit {
			log.Printf("[source] frame MJPEG passou de %d bytes sem EOI, descartando", limit)
			cur = nil
			inFrame = false
			prev = b
			continue
		}
		if prev == 0xFF && b == 0xD9 {
			onFrame(cur)
			cur = nil
			inFrame = false
			prev = 0
			continue
		}
		prev = b
	}
}

type limitedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
