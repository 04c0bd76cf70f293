package kafka

import (
	"encoding/json"
	"strconv"

	"github.com/IBM/sarama"
	c "github.com/d0ngw/counters/common"
	"github.com/pkg/errors"
)

// canal的事件类型
const (
	INSERT = "INSERT"
	UPDATE = "UPDATE"
	DELETE = "DELETE"
)

// CanalMessage canal以flat message格式推送到kafka的binlog
type CanalMessage struct {
	ID       int64    `json:"id"`
	Database string   `json:"database"`
	Table    string   `json:"table"`
	PKNames  []string `json:"pkNames"`
	IsDDL    bool     `json:"isDdl"`
	Type     string   `json:"type"`
	ES       int64    `json:"es"`
	TS       int64    `json:"ts"`
	SQL      string   `json:"sql"`

	// Data 变更后的行
	Data []map[string]interface{} `json:"data"`
	// Old 只包含UPDATE中变更的列在变更前的值
	Old []map[string]interface{} `json:"old"`
}

// ToCanalMessage decode the value of msg
func ToCanalMessage(msg *sarama.ConsumerMessage) (*CanalMessage, error) {
	var canalMsg CanalMessage
	if err := c.UnmarshalUseNumber(msg.Value, &canalMsg); err != nil {
		return nil, errors.Wrapf(err, "invalid canal message at %s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}
	return &canalMsg, nil
}

// OldRow return the before image of the i-th row,nil if absent
func (p *CanalMessage) OldRow(i int) map[string]interface{} {
	if i < len(p.Old) {
		return p.Old[i]
	}
	return nil
}

// columnString return the column as string,canal sends every value as string or null
func columnString(row map[string]interface{}, column string) (string, bool) {
	v, ok := row[column]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	}
	return "", false
}
