// room/room.go
package room

import (
	"sync"
	"time"
)

// Room 是对局在本进程内的协调对象。
// 同一对局的所有回合写入（玩家掷骰、超时强制跳过、离开）都在 Room 的锁内串行执行。
// Room 中的数据只是进程内缓存，重启后可从空状态重建。
type Room struct {
	Code      string
	CreatedAt time.Time
	turnMutex sync.Mutex
	// afkStreaks counts consecutive forced skips per player; guarded by turnMutex.
	afkStreaks map[uint]int
}

// NewRoom 创建一个新房间
func NewRoom(code string) *Room {
	return &Room{
		Code:       code,
		CreatedAt:  time.Now(),
		afkStreaks: make(map[uint]int),
	}
}

// WithTurn runs fn while holding the room's turn lock.
func (r *Room) WithTurn(fn func() error) error {
	r.turnMutex.Lock()
	defer r.turnMutex.Unlock()
	return fn()
}

// RecordForcedSkip increments the player's AFK streak and returns it.
// Must be called inside WithTurn.
func (r *Room) RecordForcedSkip(playerID uint) int {
	r.afkStreaks[playerID]++
	return r.afkStreaks[playerID]
}

// ResetAFK clears the player's AFK streak. Must be called inside WithTurn.
func (r *Room) ResetAFK(playerID uint) {
	delete(r.afkStreaks, playerID)
}

// --- 房间管理器 ---

// Manager 管理所有房间
type Manager struct {
	rooms map[string]*Room
	mutex sync.RWMutex
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// Acquire returns the room for a session code, creating it on first use.
func (m *Manager) Acquire(code string) *Room {
	m.mutex.RLock()
	room, exists := m.rooms[code]
	m.mutex.RUnlock()
	if exists {
		return room
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if room, exists := m.rooms[code]; exists {
		return room
	}
	room = NewRoom(code)
	m.rooms[code] = room
	return room
}

// GetRoom 从管理器中获取一个房间
func (m *Manager) GetRoom(code string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[code]
	return room, exists
}

// RemoveRoom drops a finished session's room.
func (m *Manager) RemoveRoom(code string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.rooms, code)
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}
