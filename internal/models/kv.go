package models

// KVEntry is one row of a logical hash table in the SQL store backend
type KVEntry struct {
	Table string `gorm:"primaryKey;type:varchar(32);column:table_name"`
	Key   []byte `gorm:"primaryKey;column:entry_key"`
	Value []byte `gorm:"not null;column:value"`
}

// TableName specifies the table name for KVEntry
func (KVEntry) TableName() string {
	return "kv_entries"
}

// Counter is a named integer cell in the SQL store backend
type Counter struct {
	Name  string `gorm:"primaryKey;type:varchar(64);column:name"`
	Value int64  `gorm:"not null;default:0;column:value"`
}

// TableName specifies the table name for Counter
func (Counter) TableName() string {
	return "counters"
}
