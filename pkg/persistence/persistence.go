package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/ordercore/pkg/logger"
)

// SchemaVersion 快照信封格式版本
const SchemaVersion = 1

// Service 持久化服务接口
type Service interface {
	NewStore(prefix, id, tag string) Store
}

// Store 存储接口
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
	Delete() error
}

var (
	// ErrNotExists 表示数据不存在
	ErrNotExists = errors.New("persistence data not exists")
	// ErrSchemaMismatch 快照版本与当前程序不一致
	ErrSchemaMismatch = errors.New("persistence schema mismatch")
)

// envelope 落盘格式：带版本和保存时间，payload 原样保留
type envelope struct {
	Version int             `json:"version"`
	Key     string          `json:"key"`
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// JSONFileService 每个 key 一个 JSON 文件
type JSONFileService struct {
	baseDir string
}

func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{baseDir: baseDir}
}

// BaseDir 快照目录
func (s *JSONFileService) BaseDir() string { return s.baseDir }

// NewStore key 形如 "<prefix>:<id>:<tag>"
func (s *JSONFileService) NewStore(prefix, id, tag string) Store {
	key := prefix + ":" + id + ":" + tag
	return &JSONFileStore{
		key:  key,
		path: filepath.Join(s.baseDir, keySanitizer.ReplaceAllString(key, "_")+".json"),
	}
}

// JSONFileStore 单个快照文件
type JSONFileStore struct {
	key  string
	path string
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Path 快照文件路径
func (s *JSONFileStore) Path() string { return s.path }

// Save 原子写入（先写临时文件再 rename）
func (s *JSONFileStore) Save(data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "encode %s", s.key)
	}
	b, err := json.MarshalIndent(envelope{
		Version: SchemaVersion,
		Key:     s.key,
		SavedAt: time.Now().UTC(),
		Data:    payload,
	}, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode envelope %s", s.key)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "mkdir state dir")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrapf(err, "rename %s", tmp)
	}
	logger.Debugf("💾 [persistence] saved key=%s bytes=%d", s.key, len(b))
	return nil
}

// Load 文件不存在或为空时返回 ErrNotExists
func (s *JSONFileStore) Load(data interface{}) error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return errors.Wrapf(err, "read %s", s.path)
	}
	if len(b) == 0 {
		return ErrNotExists
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return errors.Wrapf(err, "decode envelope %s", s.key)
	}
	if env.Version != SchemaVersion {
		return errors.Wrapf(ErrSchemaMismatch, "key=%s version=%d", s.key, env.Version)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return ErrNotExists
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return errors.Wrapf(err, "decode %s", s.key)
	}
	logger.Debugf("📂 [persistence] loaded key=%s savedAt=%s", s.key, env.SavedAt.Format(time.RFC3339))
	return nil
}

// Delete 删除快照，不存在视为成功
func (s *JSONFileStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", s.path)
	}
	return nil
}
