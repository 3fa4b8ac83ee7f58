// Package archive stores the move log of finished matches as zstd-compressed
// JSON lines and replays them.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/pablobitw/goosegame/board"
	"github.com/pablobitw/goosegame/game"
	"github.com/pablobitw/goosegame/logger"
	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/persistence"
)

var (
	ErrNoHeader        = errors.New("archive has no session header")
	ErrInconsistentLog = errors.New("archived move log is inconsistent with the board")
)

// entry is one JSON line. The first line carries the session, the rest one
// move each.
type entry struct {
	Session *models.Session `json:"session,omitempty"`
	Move    *models.Move    `json:"move,omitempty"`
}

// Record is a decoded archive.
type Record struct {
	Session models.Session
	Moves   []models.Move
}

type Archiver struct {
	dir   string
	store persistence.Store
	mutex sync.Mutex
}

func NewArchiver(dir string, store persistence.Store) *Archiver {
	return &Archiver{dir: dir, store: store}
}

// Path returns where the archive of a session lives.
func (a *Archiver) Path(s models.Session) string {
	return filepath.Join(a.dir, fmt.Sprintf("%s-%d.jsonl.zst", s.Code, s.ID))
}

// SessionFinished archives a finished session. Failures are logged only.
func (a *Archiver) SessionFinished(s models.Session) {
	if err := a.Archive(context.Background(), s); err != nil {
		logger.Log.Errorw("match archive failed", "session", s.Code, "err", err)
	}
}

// Archive writes the session and its full move log.
func (a *Archiver) Archive(ctx context.Context, s models.Session) error {
	moves, err := a.store.ListMoves(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("list moves: %w", err)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return err
	}
	path := a.Path(s)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f, s, moves); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	logger.Log.Infow("match archived", "session", s.Code, "moves", len(moves), "path", path)
	return nil
}

func write(w io.Writer, s models.Session, moves []models.Move) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	je := json.NewEncoder(bw)
	if err := je.Encode(entry{Session: &s}); err != nil {
		_ = enc.Close()
		return err
	}
	for i := range moves {
		if err := je.Encode(entry{Move: &moves[i]}); err != nil {
			_ = enc.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Read decodes an archive file.
func Read(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	rec := &Record{}
	header := false
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decode archive line: %w", err)
		}
		switch {
		case e.Session != nil:
			rec.Session = *e.Session
			header = true
		case e.Move != nil:
			rec.Moves = append(rec.Moves, *e.Move)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !header {
		return nil, ErrNoHeader
	}
	return rec, nil
}

// Replay reads an archive, checks every move against the session's board and
// returns the final position of each player.
func Replay(path string) (map[uint]int, error) {
	rec, err := Read(path)
	if err != nil {
		return nil, err
	}
	b, ok := board.Variant(rec.Session.BoardVariant)
	if !ok {
		return nil, fmt.Errorf("board variant %q: %w", rec.Session.BoardVariant, game.ErrUnknownVariant)
	}
	if bad := game.VerifyMoves(b, rec.Moves); bad != nil {
		return nil, fmt.Errorf("move %d of player %d: %w", bad.TurnNumber, bad.PlayerID, ErrInconsistentLog)
	}
	return game.ReplayPositions(rec.Moves), nil
}
