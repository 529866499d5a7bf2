package entity

import "fmt"

// ValidationError 校验错误
// 同步返回，不产生任何副作用；Reason 面向用户可读
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
