package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// TaskEventRecord is an indexed engine event
type TaskEventRecord struct {
	ID        int64           `db:"id" json:"id"`
	Kind      string          `db:"kind" json:"kind"`
	Height    int64           `db:"height" json:"height"`
	TaskID    sql.NullInt64   `db:"task_id" json:"-"`
	Network   sql.NullInt32   `db:"network" json:"-"`
	Data      json.RawMessage `db:"data" json:"data"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// ViewResultRecord is the raw output of a successful view call
type ViewResultRecord struct {
	TaskID    int64     `db:"task_id" json:"task_id"`
	Network   int32     `db:"network" json:"network"`
	Address   string    `db:"address" json:"address"`
	Height    int64     `db:"height" json:"height"`
	Output    []byte    `db:"output" json:"output"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GmpMessageRecord is a relayed message observed in a ReadMessages result
type GmpMessageRecord struct {
	MessageID   string    `db:"message_id" json:"message_id"`
	TaskID      int64     `db:"task_id" json:"task_id"`
	SrcNetwork  int32     `db:"src_network" json:"src_network"`
	DestNetwork int32     `db:"dest_network" json:"dest_network"`
	Src         string    `db:"src" json:"src"`
	Dest        string    `db:"dest" json:"dest"`
	Nonce       int64     `db:"nonce" json:"nonce"`
	GasLimit    int64     `db:"gas_limit" json:"gas_limit"`
	Data        []byte    `db:"data" json:"data"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
