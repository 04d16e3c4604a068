package worker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/guseggert/enginermi/rmi"
)

const (
	empty int8 = iota
	black
	white
)

// Move is a move returned by Random.Genmove. Coordinates are 1-based.
type Move struct {
	X    int  `json:"x,omitempty"`
	Y    int  `json:"y,omitempty"`
	Pass bool `json:"pass,omitempty"`
}

// SearchResult is returned by Random.Search.
type SearchResult struct {
	Candidates int `json:"candidates"`
}

// Score is returned by Random.FinalScore. It counts stones on the board.
type Score struct {
	Black  int    `json:"black"`
	White  int    `json:"white"`
	Winner string `json:"winner"`
}

// Random is a reference Engine that plays uniformly random legal points.
// It exists to exercise the invocation protocol end to end; it does no evaluation.
type Random struct {
	size  int
	think time.Duration

	mut     sync.Mutex
	rng     *rand.Rand
	board   []int8
	toPlay  int8
	loaded  bool
	main    time.Duration
	byoyomi time.Duration
	spent   time.Duration
}

type RandomOption func(r *Random)

// WithBoardSize sets the board to n x n points. The default is 19.
func WithBoardSize(n int) RandomOption {
	return func(r *Random) {
		r.size = n
	}
}

// WithThinkTime sets how long Genmove and Search take before answering. The default is one second.
func WithThinkTime(d time.Duration) RandomOption {
	return func(r *Random) {
		r.think = d
	}
}

func WithSeed(seed int64) RandomOption {
	return func(r *Random) {
		r.rng = rand.New(rand.NewSource(seed))
	}
}

func NewRandom(opts ...RandomOption) *Random {
	r := &Random{
		size:  19,
		think: time.Second,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.reset()
	return r
}

func (r *Random) reset() {
	r.board = make([]int8, r.size*r.size)
	r.toPlay = black
	r.spent = 0
}

// LoadNN marks the engine loaded. Random has no network, so there is nothing to read.
func (r *Random) LoadNN(ctx context.Context) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.loaded = true
	return nil
}

func (r *Random) Loaded() bool {
	r.mut.Lock()
	defer r.mut.Unlock()
	return r.loaded
}

func (r *Random) Clear(ctx context.Context) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.reset()
	return nil
}

func (r *Random) TimeSettings(ctx context.Context, mainTime, byoyomi time.Duration) error {
	if mainTime < 0 || byoyomi < 0 {
		return fmt.Errorf("%w: negative time settings", rmi.ErrInvalidArgument)
	}
	r.mut.Lock()
	defer r.mut.Unlock()
	r.main = mainTime
	r.byoyomi = byoyomi
	r.spent = 0
	return nil
}

func (r *Random) Genmove(ctx context.Context) (any, error) {
	start := time.Now()
	err := r.thinkFor(ctx)

	r.mut.Lock()
	defer r.mut.Unlock()
	r.spent += time.Since(start)
	if err != nil {
		return nil, err
	}
	// a stop that lands after the think time must still leave the board untouched
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	empties := r.empties()
	if len(empties) == 0 {
		r.toPlay = opponent(r.toPlay)
		return Move{Pass: true}, nil
	}
	i := empties[r.rng.Intn(len(empties))]
	r.board[i] = r.toPlay
	r.toPlay = opponent(r.toPlay)
	return Move{X: i%r.size + 1, Y: i/r.size + 1}, nil
}

func (r *Random) Play(ctx context.Context, x, y int) error {
	if x < 1 || x > r.size || y < 1 || y > r.size {
		return fmt.Errorf("%w: (%d, %d) is off the %dx%d board", rmi.ErrInvalidArgument, x, y, r.size, r.size)
	}
	r.mut.Lock()
	defer r.mut.Unlock()
	i := (y-1)*r.size + (x - 1)
	if r.board[i] != empty {
		return fmt.Errorf("%w: (%d, %d) is occupied", rmi.ErrInvalidArgument, x, y)
	}
	r.board[i] = r.toPlay
	r.toPlay = opponent(r.toPlay)
	return nil
}

func (r *Random) Pass(ctx context.Context) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.toPlay = opponent(r.toPlay)
	return nil
}

func (r *Random) Search(ctx context.Context) (any, error) {
	if err := r.thinkFor(ctx); err != nil {
		return nil, err
	}
	r.mut.Lock()
	defer r.mut.Unlock()
	return SearchResult{Candidates: len(r.empties())}, nil
}

func (r *Random) FinalScore(ctx context.Context) (any, error) {
	r.mut.Lock()
	defer r.mut.Unlock()
	var s Score
	for _, p := range r.board {
		switch p {
		case black:
			s.Black++
		case white:
			s.White++
		}
	}
	switch {
	case s.Black > s.White:
		s.Winner = "black"
	case s.White > s.Black:
		s.Winner = "white"
	default:
		s.Winner = "draw"
	}
	return s, nil
}

// Ponder runs until ctx is canceled.
func (r *Random) Ponder(ctx context.Context) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// TimeLeft returns the main time not yet spent in Genmove, in seconds.
func (r *Random) TimeLeft(ctx context.Context) (any, error) {
	r.mut.Lock()
	defer r.mut.Unlock()
	left := r.main - r.spent
	if left < 0 {
		left = 0
	}
	return left.Seconds(), nil
}

func (r *Random) thinkFor(ctx context.Context) error {
	t := time.NewTimer(r.think)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Random) empties() []int {
	var empties []int
	for i, p := range r.board {
		if p == empty {
			empties = append(empties, i)
		}
	}
	return empties
}

func opponent(c int8) int8 {
	if c == black {
		return white
	}
	return black
}
