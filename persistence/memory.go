// persistence/memory.go
package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pablobitw/goosegame/models"
)

// MemoryStore 内存实现，用于开发与测试。
// Transaction 在数据快照上执行，出错时整体丢弃，语义与数据库事务一致。
type MemoryStore struct {
	mutex  sync.Mutex
	data   *memData
	faults *faultSet
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memData{
			sessions: make(map[uint]models.Session),
			players:  make(map[uint]models.Player),
			stats:    make(map[uint]models.PlayerStats),
		},
		faults: &faultSet{pending: make(map[string][]error)},
	}
}

// FailNext makes the next call to the named Store method (e.g. "AppendMove")
// return err. Multiple calls queue up in order.
func (s *MemoryStore) FailNext(op string, err error) {
	s.faults.add(op, err)
}

type memData struct {
	sessionSeq, playerSeq, moveSeq, sanctionSeq uint

	sessions  map[uint]models.Session
	players   map[uint]models.Player
	moves     []models.Move
	stats     map[uint]models.PlayerStats
	sanctions []models.Sanction
}

func (d *memData) clone() *memData {
	c := &memData{
		sessionSeq:  d.sessionSeq,
		playerSeq:   d.playerSeq,
		moveSeq:     d.moveSeq,
		sanctionSeq: d.sanctionSeq,
		sessions:    make(map[uint]models.Session, len(d.sessions)),
		players:     make(map[uint]models.Player, len(d.players)),
		moves:       append([]models.Move(nil), d.moves...),
		stats:       make(map[uint]models.PlayerStats, len(d.stats)),
		sanctions:   append([]models.Sanction(nil), d.sanctions...),
	}
	for k, v := range d.sessions {
		c.sessions[k] = v
	}
	for k, v := range d.players {
		c.players[k] = v
	}
	for k, v := range d.stats {
		c.stats[k] = v
	}
	return c
}

type faultSet struct {
	mutex   sync.Mutex
	pending map[string][]error
}

func (f *faultSet) add(op string, err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.pending[op] = append(f.pending[op], err)
}

func (f *faultSet) take(op string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	queue := f.pending[op]
	if len(queue) == 0 {
		return nil
	}
	f.pending[op] = queue[1:]
	return queue[0]
}

// memTx operates on one data snapshot without locking; MemoryStore holds
// the lock around every call.
type memTx struct {
	data   *memData
	faults *faultSet
}

func (s *MemoryStore) view() *memTx {
	return &memTx{data: s.data, faults: s.faults}
}

func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.faults.take("Transaction"); err != nil {
		return err
	}
	snapshot := s.data.clone()
	if err := fn(&memTx{data: snapshot, faults: s.faults}); err != nil {
		return err
	}
	s.data = snapshot
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateSession(ctx context.Context, sess *models.Session) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().CreateSession(ctx, sess)
}

func (s *MemoryStore) GetSession(ctx context.Context, id uint) (*models.Session, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().GetSession(ctx, id)
}

func (s *MemoryStore) GetSessionByCode(ctx context.Context, code string) (*models.Session, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().GetSessionByCode(ctx, code)
}

func (s *MemoryStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().UpdateSession(ctx, sess)
}

func (s *MemoryStore) ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().ListSessionsByStatus(ctx, status)
}

func (s *MemoryStore) CreatePlayer(ctx context.Context, p *models.Player) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().CreatePlayer(ctx, p)
}

func (s *MemoryStore) GetPlayer(ctx context.Context, id uint) (*models.Player, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().GetPlayer(ctx, id)
}

func (s *MemoryStore) GetPlayerByUsername(ctx context.Context, username string) (*models.Player, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().GetPlayerByUsername(ctx, username)
}

func (s *MemoryStore) ListSessionPlayers(ctx context.Context, sessionID uint) ([]models.Player, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().ListSessionPlayers(ctx, sessionID)
}

func (s *MemoryStore) UpdatePlayer(ctx context.Context, p *models.Player) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().UpdatePlayer(ctx, p)
}

func (s *MemoryStore) AppendMove(ctx context.Context, m *models.Move) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().AppendMove(ctx, m)
}

func (s *MemoryStore) LastMove(ctx context.Context, sessionID uint) (*models.Move, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().LastMove(ctx, sessionID)
}

func (s *MemoryStore) LastPlayerMove(ctx context.Context, sessionID, playerID uint) (*models.Move, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().LastPlayerMove(ctx, sessionID, playerID)
}

func (s *MemoryStore) ListMoves(ctx context.Context, sessionID uint) ([]models.Move, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().ListMoves(ctx, sessionID)
}

func (s *MemoryStore) CountMoves(ctx context.Context, sessionID uint) (int64, int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().CountMoves(ctx, sessionID)
}

func (s *MemoryStore) GetStats(ctx context.Context, playerID uint) (*models.PlayerStats, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().GetStats(ctx, playerID)
}

func (s *MemoryStore) SaveStats(ctx context.Context, st *models.PlayerStats) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().SaveStats(ctx, st)
}

func (s *MemoryStore) AddSanction(ctx context.Context, sanction *models.Sanction) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().AddSanction(ctx, sanction)
}

func (s *MemoryStore) ListSanctions(ctx context.Context, playerID uint) ([]models.Sanction, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().ListSanctions(ctx, playerID)
}

func (s *MemoryStore) ActiveSanction(ctx context.Context, playerID uint, at time.Time) (*models.Sanction, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.view().ActiveSanction(ctx, playerID, at)
}

// --- memTx: the actual reads and writes ---

func (t *memTx) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memTx) Close() error { return nil }

func (t *memTx) CreateSession(ctx context.Context, s *models.Session) error {
	if err := t.faults.take("CreateSession"); err != nil {
		return err
	}
	for _, existing := range t.data.sessions {
		if existing.Code == s.Code {
			return ErrDuplicateKey
		}
	}
	t.data.sessionSeq++
	s.ID = t.data.sessionSeq
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	t.data.sessions[s.ID] = *s
	return nil
}

func (t *memTx) GetSession(ctx context.Context, id uint) (*models.Session, error) {
	if err := t.faults.take("GetSession"); err != nil {
		return nil, err
	}
	s, ok := t.data.sessions[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &s, nil
}

func (t *memTx) GetSessionByCode(ctx context.Context, code string) (*models.Session, error) {
	if err := t.faults.take("GetSessionByCode"); err != nil {
		return nil, err
	}
	for _, s := range t.data.sessions {
		if s.Code == code {
			return &s, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (t *memTx) UpdateSession(ctx context.Context, s *models.Session) error {
	if err := t.faults.take("UpdateSession"); err != nil {
		return err
	}
	if _, ok := t.data.sessions[s.ID]; !ok {
		return ErrRecordNotFound
	}
	t.data.sessions[s.ID] = *s
	return nil
}

func (t *memTx) ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error) {
	if err := t.faults.take("ListSessionsByStatus"); err != nil {
		return nil, err
	}
	var result []models.Session
	for _, s := range t.data.sessions {
		if s.Status == status {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (t *memTx) CreatePlayer(ctx context.Context, p *models.Player) error {
	if err := t.faults.take("CreatePlayer"); err != nil {
		return err
	}
	for _, existing := range t.data.players {
		if existing.Username == p.Username {
			return ErrDuplicateKey
		}
	}
	t.data.playerSeq++
	p.ID = t.data.playerSeq
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	t.data.players[p.ID] = *p
	return nil
}

func (t *memTx) GetPlayer(ctx context.Context, id uint) (*models.Player, error) {
	if err := t.faults.take("GetPlayer"); err != nil {
		return nil, err
	}
	p, ok := t.data.players[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &p, nil
}

func (t *memTx) GetPlayerByUsername(ctx context.Context, username string) (*models.Player, error) {
	if err := t.faults.take("GetPlayerByUsername"); err != nil {
		return nil, err
	}
	for _, p := range t.data.players {
		if p.Username == username {
			return &p, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (t *memTx) ListSessionPlayers(ctx context.Context, sessionID uint) ([]models.Player, error) {
	if err := t.faults.take("ListSessionPlayers"); err != nil {
		return nil, err
	}
	var result []models.Player
	for _, p := range t.data.players {
		if p.SessionID == sessionID && sessionID != 0 {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (t *memTx) UpdatePlayer(ctx context.Context, p *models.Player) error {
	if err := t.faults.take("UpdatePlayer"); err != nil {
		return err
	}
	if _, ok := t.data.players[p.ID]; !ok {
		return ErrRecordNotFound
	}
	p.UpdatedAt = time.Now()
	t.data.players[p.ID] = *p
	return nil
}

func (t *memTx) AppendMove(ctx context.Context, m *models.Move) error {
	if err := t.faults.take("AppendMove"); err != nil {
		return err
	}
	t.data.moveSeq++
	m.ID = t.data.moveSeq
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	t.data.moves = append(t.data.moves, *m)
	return nil
}

func (t *memTx) LastMove(ctx context.Context, sessionID uint) (*models.Move, error) {
	if err := t.faults.take("LastMove"); err != nil {
		return nil, err
	}
	for i := len(t.data.moves) - 1; i >= 0; i-- {
		if t.data.moves[i].SessionID == sessionID {
			m := t.data.moves[i]
			return &m, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (t *memTx) LastPlayerMove(ctx context.Context, sessionID, playerID uint) (*models.Move, error) {
	if err := t.faults.take("LastPlayerMove"); err != nil {
		return nil, err
	}
	for i := len(t.data.moves) - 1; i >= 0; i-- {
		m := t.data.moves[i]
		if m.SessionID == sessionID && m.PlayerID == playerID {
			return &m, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (t *memTx) ListMoves(ctx context.Context, sessionID uint) ([]models.Move, error) {
	if err := t.faults.take("ListMoves"); err != nil {
		return nil, err
	}
	var result []models.Move
	for _, m := range t.data.moves {
		if m.SessionID == sessionID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (t *memTx) CountMoves(ctx context.Context, sessionID uint) (int64, int64, error) {
	if err := t.faults.take("CountMoves"); err != nil {
		return 0, 0, err
	}
	var total, extra int64
	for _, m := range t.data.moves {
		if m.SessionID != sessionID {
			continue
		}
		total++
		if m.IsExtraTurn() {
			extra++
		}
	}
	return total, extra, nil
}

func (t *memTx) GetStats(ctx context.Context, playerID uint) (*models.PlayerStats, error) {
	if err := t.faults.take("GetStats"); err != nil {
		return nil, err
	}
	st, ok := t.data.stats[playerID]
	if !ok {
		return &models.PlayerStats{PlayerID: playerID}, nil
	}
	return &st, nil
}

func (t *memTx) SaveStats(ctx context.Context, st *models.PlayerStats) error {
	if err := t.faults.take("SaveStats"); err != nil {
		return err
	}
	st.UpdatedAt = time.Now()
	t.data.stats[st.PlayerID] = *st
	return nil
}

func (t *memTx) AddSanction(ctx context.Context, s *models.Sanction) error {
	if err := t.faults.take("AddSanction"); err != nil {
		return err
	}
	t.data.sanctionSeq++
	s.ID = t.data.sanctionSeq
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	t.data.sanctions = append(t.data.sanctions, *s)
	return nil
}

func (t *memTx) ListSanctions(ctx context.Context, playerID uint) ([]models.Sanction, error) {
	if err := t.faults.take("ListSanctions"); err != nil {
		return nil, err
	}
	var result []models.Sanction
	for _, s := range t.data.sanctions {
		if s.PlayerID == playerID {
			result = append(result, s)
		}
	}
	return result, nil
}

func (t *memTx) ActiveSanction(ctx context.Context, playerID uint, at time.Time) (*models.Sanction, error) {
	if err := t.faults.take("ActiveSanction"); err != nil {
		return nil, err
	}
	for i := len(t.data.sanctions) - 1; i >= 0; i-- {
		s := t.data.sanctions[i]
		if s.PlayerID == playerID && s.ActiveAt(at) {
			return &s, nil
		}
	}
	return nil, ErrRecordNotFound
}
