package auth

import (
	"encoding/json"
	"time"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func marshalDetails(details map[string]interface{}) string {
	if len(details) == 0 {
		return ""
	}
	b, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	return string(b)
}
