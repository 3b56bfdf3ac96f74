package tracking

import (
	"fmt"
	"math/rand"
	"time"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return string(b)
}

// GenerateControllerID 生成 ctrl-<毫秒时间戳>-<随机串> 形式的 controller 实例ID。
func GenerateControllerID() string {
	return fmt.Sprintf("ctrl-%d-%s", time.Now().UnixMilli(), randomSuffix(9))
}

// GenerateFlowID 生成 flow-YYYY-MM-DD-<随机串> 形式的 flow ID。
func GenerateFlowID() string {
	return fmt.Sprintf("flow-%s-%s", time.Now().UTC().Format("2006-01-02"), randomSuffix(9))
}
