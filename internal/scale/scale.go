package scale

import (
	"sort"
	"strconv"
	"strings"
)

// MaxScaleValues 自定义刻度最多保留的取值个数
const MaxScaleValues = 100

// DefaultScale 内置的斐波那契估点刻度
var DefaultScale = []int{1, 2, 3, 5, 8, 13, 21, 34, 55, 89}

// Resolve 将刻度配置解析为升序取值序列。
// 空配置返回内置刻度；自定义配置为逗号分隔列表，丢弃非正整数项，
// 升序排序去重，超过上限时截断为前MaxScaleValues个；
// 解析结果为空时回退到内置刻度。
func Resolve(spec string) []int {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return append([]int(nil), DefaultScale...)
	}

	seen := make(map[int]struct{})
	var values []int
	for _, part := range strings.Split(spec, ",") {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || value <= 0 {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		values = append(values, value)
	}

	if len(values) == 0 {
		return append([]int(nil), DefaultScale...)
	}

	sort.Ints(values)
	if len(values) > MaxScaleValues {
		values = values[:MaxScaleValues]
	}
	return values
}

// Estimate 计算一组投票的建议估点。
// 空投票集返回0；否则取算术平均值，向上取整到刻度中
// 第一个不小于平均值的取值；平均值超过刻度最大值时返回最大值。
func Estimate(votes []int, scaleValues []int) int {
	if len(votes) == 0 || len(scaleValues) == 0 {
		return 0
	}

	sum := 0
	for _, vote := range votes {
		sum += vote
	}
	mean := float64(sum) / float64(len(votes))

	for _, value := range scaleValues {
		if float64(value) >= mean {
			return value
		}
	}
	return scaleValues[len(scaleValues)-1]
}

// Contains 判断取值是否属于刻度
func Contains(scaleValues []int, value int) bool {
	for _, v := range scaleValues {
		if v == value {
			return true
		}
	}
	return false
}

// Format 将刻度序列化为逗号分隔字符串，用于持久化
func Format(scaleValues []int) string {
	parts := make([]string, len(scaleValues))
	for i, v := range scaleValues {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
