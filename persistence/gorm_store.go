// persistence/gorm_store.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // registers the pure-Go "sqlite" database/sql driver

	"github.com/pablobitw/goosegame/models"
)

// GormStore 基于GORM的Store实现，支持PostgreSQL与SQLite
type GormStore struct {
	db *gorm.DB
}

func gormConfig() *gorm.Config {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)
	return &gorm.Config{Logger: gormLogger, TranslateError: true}
}

// NewGormPostgreSQL 创建PostgreSQL连接。底层使用 lib/pq 驱动，便于识别可重试错误
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := gorm.Open(postgres.New(postgres.Config{
		DriverName: "postgres",
		DSN:        dsn,
	}), gormConfig())
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return newGormStore(db)
}

// NewGormSQLite 打开SQLite数据库（纯Go驱动），path 可为 ":memory:"
func NewGormSQLite(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.New(sqlite.Config{
		DriverName: "sqlite",
		DSN:        path,
	}), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; one connection also keeps ":memory:" databases alive.
	sqlDB.SetMaxOpenConns(1)

	return newGormStore(db)
}

func newGormStore(db *gorm.DB) (*GormStore, error) {
	// 自动迁移表结构
	if err := db.AutoMigrate(
		&models.Session{},
		&models.Player{},
		&models.Move{},
		&models.PlayerStats{},
		&models.Sanction{},
	); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// classify maps driver errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505": // unique_violation
			return ErrDuplicateKey
		case pqErr.Code.Class() == "08", // connection exception
			pqErr.Code == "40001", // serialization_failure
			pqErr.Code == "40P01", // deadlock_detected
			pqErr.Code.Class() == "57": // operator intervention
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}
	return err
}

func (g *GormStore) CreateSession(ctx context.Context, s *models.Session) error {
	return classify(g.db.WithContext(ctx).Create(s).Error)
}

func (g *GormStore) GetSession(ctx context.Context, id uint) (*models.Session, error) {
	var s models.Session
	if err := g.db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, classify(err)
	}
	return &s, nil
}

func (g *GormStore) GetSessionByCode(ctx context.Context, code string) (*models.Session, error) {
	var s models.Session
	if err := g.db.WithContext(ctx).Where("code = ?", code).First(&s).Error; err != nil {
		return nil, classify(err)
	}
	return &s, nil
}

func (g *GormStore) UpdateSession(ctx context.Context, s *models.Session) error {
	return classify(g.db.WithContext(ctx).Save(s).Error)
}

func (g *GormStore) ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error) {
	var sessions []models.Session
	err := g.db.WithContext(ctx).Where("status = ?", status).Order("id asc").Find(&sessions).Error
	return sessions, classify(err)
}

func (g *GormStore) CreatePlayer(ctx context.Context, p *models.Player) error {
	return classify(g.db.WithContext(ctx).Create(p).Error)
}

func (g *GormStore) GetPlayer(ctx context.Context, id uint) (*models.Player, error) {
	var p models.Player
	if err := g.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

func (g *GormStore) GetPlayerByUsername(ctx context.Context, username string) (*models.Player, error) {
	var p models.Player
	if err := g.db.WithContext(ctx).Where("username = ?", username).First(&p).Error; err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

func (g *GormStore) ListSessionPlayers(ctx context.Context, sessionID uint) ([]models.Player, error) {
	var players []models.Player
	err := g.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id asc").Find(&players).Error
	return players, classify(err)
}

func (g *GormStore) UpdatePlayer(ctx context.Context, p *models.Player) error {
	return classify(g.db.WithContext(ctx).Save(p).Error)
}

func (g *GormStore) AppendMove(ctx context.Context, m *models.Move) error {
	return classify(g.db.WithContext(ctx).Create(m).Error)
}

func (g *GormStore) LastMove(ctx context.Context, sessionID uint) (*models.Move, error) {
	var m models.Move
	err := g.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id desc").First(&m).Error
	if err != nil {
		return nil, classify(err)
	}
	return &m, nil
}

func (g *GormStore) LastPlayerMove(ctx context.Context, sessionID, playerID uint) (*models.Move, error) {
	var m models.Move
	err := g.db.WithContext(ctx).
		Where("session_id = ? AND player_id = ?", sessionID, playerID).
		Order("id desc").First(&m).Error
	if err != nil {
		return nil, classify(err)
	}
	return &m, nil
}

func (g *GormStore) ListMoves(ctx context.Context, sessionID uint) ([]models.Move, error) {
	var moves []models.Move
	err := g.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id asc").Find(&moves).Error
	return moves, classify(err)
}

func (g *GormStore) CountMoves(ctx context.Context, sessionID uint) (int64, int64, error) {
	var total, extra int64
	db := g.db.WithContext(ctx)
	if err := db.Model(&models.Move{}).Where("session_id = ?", sessionID).Count(&total).Error; err != nil {
		return 0, 0, classify(err)
	}
	err := db.Model(&models.Move{}).
		Where("session_id = ? AND action LIKE ?", sessionID, "%"+models.MarkerExtraTurn+"%").
		Count(&extra).Error
	if err != nil {
		return 0, 0, classify(err)
	}
	return total, extra, nil
}

func (g *GormStore) GetStats(ctx context.Context, playerID uint) (*models.PlayerStats, error) {
	var st models.PlayerStats
	err := g.db.WithContext(ctx).Where("player_id = ?", playerID).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.PlayerStats{PlayerID: playerID}, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &st, nil
}

func (g *GormStore) SaveStats(ctx context.Context, st *models.PlayerStats) error {
	// Save upserts on the primary key.
	return classify(g.db.WithContext(ctx).Save(st).Error)
}

func (g *GormStore) AddSanction(ctx context.Context, s *models.Sanction) error {
	return classify(g.db.WithContext(ctx).Create(s).Error)
}

func (g *GormStore) ListSanctions(ctx context.Context, playerID uint) ([]models.Sanction, error) {
	var sanctions []models.Sanction
	err := g.db.WithContext(ctx).Where("player_id = ?", playerID).Order("id asc").Find(&sanctions).Error
	return sanctions, classify(err)
}

func (g *GormStore) ActiveSanction(ctx context.Context, playerID uint, at time.Time) (*models.Sanction, error) {
	var s models.Sanction
	err := g.db.WithContext(ctx).
		Where("player_id = ? AND starts_at <= ? AND (ends_at IS NULL OR ends_at > ?)", playerID, at, at).
		Order("id desc").First(&s).Error
	if err != nil {
		return nil, classify(err)
	}
	return &s, nil
}

// Transaction 事务支持
func (g *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
	return classify(err)
}

// Close 关闭数据库连接
func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
