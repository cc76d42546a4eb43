package config

type StorageBackend string

const (
	StorageFile   StorageBackend = "file"
	StorageRedis  StorageBackend = "redis"
	StorageMemory StorageBackend = "memory"
)

type StorageConfig interface {
	GetStorageBackend() StorageBackend
	GetStoragePath() string
	GetStorageSecret() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetStorageBackend() StorageBackend {
	switch b := StorageBackend(GetEnv("STORAGE_BACKEND", string(StorageFile))); b {
	case StorageFile, StorageRedis, StorageMemory:
		return b
	default:
		return StorageFile
	}
}

func (Storage) GetStoragePath() string {
	return GetEnv("STORAGE_PATH", "./data/session.json")
}

// GetStorageSecret seals the file store when set. Leave empty to store plain JSON.
func (Storage) GetStorageSecret() string {
	return GetEnv("STORAGE_SECRET", "")
}

func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Storage) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Storage) GetRedisDB() int {
	return GetEnvInt("REDIS_DB", 0)
}

func (Storage) GetRedisPrefix() string {
	return GetEnv("REDIS_PREFIX", "parrot:session:")
}
