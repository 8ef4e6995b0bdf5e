package config

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	RedisConfig           RedisStorageConfig
	HttpPort              int
	StorageType           StorageType
	StepExecutorCapacity  int
	EvaluationBatchSize   int
	EvaluationTickSeconds int
	TimeoutTickSeconds    int
	AuditStreamEnabled    bool
	AuditStreamMaxLen     int64
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}
