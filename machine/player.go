package machine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mastercactapus/gatc/gcode"
	"github.com/mastercactapus/gatc/meshlevel"
	"github.com/mastercactapus/gatc/pubdata"
)

var ErrPlaying = errors.New("a job is already playing")

// Hook intercepts job blocks. If it reports the block handled, the
// block is not sent to the controller; the job resumes once Hook returns.
type Hook func(ctx context.Context, b gcode.Block) (bool, error)

// Player streams a job to the machine, expanding variables and
// applying the active leveling mesh.
type Player struct {
	m           *Machine
	vars        *Variables
	log         *slog.Logger
	granularity float64

	hook atomic.Pointer[Hook]
	mesh atomic.Pointer[meshlevel.Mesh]

	mx      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	name    string
	line    int
	lastErr error
}

func NewPlayer(m *Machine, vars *Variables, granularity float64, log *slog.Logger) *Player {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Player{m: m, vars: vars, granularity: granularity, log: log}
}

func (p *Player) SetHook(h Hook) { p.hook.Store(&h) }

// SetMesh sets the mesh applied to jobs started afterwards. nil disables leveling.
func (p *Player) SetMesh(mesh *meshlevel.Mesh) { p.mesh.Store(mesh) }

func (p *Player) Mesh() *meshlevel.Mesh { return p.mesh.Load() }

// Play starts streaming r in the background.
func (p *Player) Play(ctx context.Context, name string, r io.Reader) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.done != nil {
		return ErrPlaying
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.name = name
	p.line = 0
	p.lastErr = nil

	go p.run(ctx, name, r, p.done)
	return nil
}

func (p *Player) run(ctx context.Context, name string, r io.Reader, done chan struct{}) {
	err := p.stream(ctx, r)
	if err == nil {
		err = p.m.WaitForIdle(ctx)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	p.mx.Lock()
	p.lastErr = err
	p.cancel()
	p.done = nil
	p.mx.Unlock()
	close(done)

	if err != nil {
		p.log.Error("job failed", "file", name, "err", err)
		return
	}
	p.log.Info("job done", "file", name)
}

func (p *Player) stream(ctx context.Context, r io.Reader) error {
	var src gcode.Reader = gcode.ReaderFunc(p.source(ctx, bufio.NewScanner(r)))
	if mesh := p.mesh.Load(); mesh != nil {
		st := p.m.State()
		src = meshlevel.New(meshlevel.Config{
			Offsetter:   mesh,
			Granularity: p.granularity,
			MPos:        st.MPos,
			WCO:         st.WCO,
			Reader:      src,
		})
	}

	for {
		b, err := src.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := p.m.Submit(ctx, b); err != nil {
			return err
		}
	}
}

// source reads, expands and parses lines, passing hooked blocks to the
// hook instead of returning them.
func (p *Player) source(ctx context.Context, scan *bufio.Scanner) func() (gcode.Block, error) {
	return func() (gcode.Block, error) {
		for scan.Scan() {
			p.mx.Lock()
			p.line++
			n := p.line
			p.mx.Unlock()

			line, err := p.vars.Expand(scan.Text())
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			b, err := gcode.ParseLine(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			if b == nil {
				continue
			}
			handled, err := p.runHook(ctx, b)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			if handled {
				continue
			}
			return b, nil
		}
		if err := scan.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
}

func (p *Player) runHook(ctx context.Context, b gcode.Block) (bool, error) {
	h := p.hook.Load()
	if h == nil {
		return false, nil
	}
	return (*h)(ctx, b)
}

// Stop aborts the running job.
func (p *Player) Stop() {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Wait blocks until the running job, if any, finishes.
func (p *Player) Wait(ctx context.Context) error {
	p.mx.Lock()
	done := p.done
	p.mx.Unlock()
	if done == nil {
		return p.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	return p.Err()
}

// Err returns the error that ended the last job.
func (p *Player) Err() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.lastErr
}

func (p *Player) Status() pubdata.PlayerStatus {
	p.mx.Lock()
	defer p.mx.Unlock()
	return pubdata.PlayerStatus{Playing: p.done != nil, File: p.name, Line: p.line}
}

func (p *Player) Playing() bool { return p.Status().Playing }

// RegisterBus publishes the player status and abort request.
func (p *Player) RegisterBus(b *pubdata.Bus) {
	b.HandleGet(pubdata.GetPlayerStatus, pubdata.Getter(p.Status))
	b.HandleSet(pubdata.AbortPlayer, func(any) error {
		p.Stop()
		return nil
	})
}
