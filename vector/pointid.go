package vector

import (
	"github.com/cespare/xxhash/v2"
)

// 外部索引只接受数值 point id；调用方的字符串 ID 通过 xxhash64 确定性映射。
// 原始字符串 ID 始终冗余在 payload.content_id，读路径以 payload 为准无损还原，
// 因此哈希碰撞只影响写路径（后写覆盖先写）。64 位哈希下碰撞概率可忽略，
// 不做显式碰撞检测。

// pointID 返回字符串 ID 对应的数值 point id。
func pointID(id string) uint64 {
	return xxhash.Sum64String(id)
}
