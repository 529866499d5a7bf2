// Package service 提供业务逻辑层的服务实现
// 包括设备扫描、拓扑校验、存储池编排、挂载点管理和健康监控
package service

import (
	"time"

	"github.com/jimyag/jnas/internal/jnas/entity"
	"github.com/jimyag/jnas/internal/jnas/repository/model"
	"github.com/jinzhu/copier"
)

// deviceEntityToModel 将 entity.Device 转换为 model.Device
func deviceEntityToModel(e *entity.Device) (*model.Device, error) {
	m := &model.Device{}
	if err := copier.Copy(m, e); err != nil {
		return nil, err
	}
	m.UpdatedAt = time.Now()
	return m, nil
}

// deviceModelToEntity 将 model.Device 转换为 entity.Device
func deviceModelToEntity(m *model.Device) (*entity.Device, error) {
	e := &entity.Device{}
	if err := copier.Copy(e, m); err != nil {
		return nil, err
	}
	return e, nil
}

// poolModelToEntity 将 model.Pool 转换为 entity.Pool
func poolModelToEntity(m *model.Pool) (*entity.Pool, error) {
	e := &entity.Pool{}
	if err := copier.Copy(e, m); err != nil {
		return nil, err
	}

	e.CreatedAt = m.CreatedAt.Format(time.RFC3339)
	if m.LastScrubAt != nil {
		e.LastScrubAt = m.LastScrubAt.Format(time.RFC3339)
	} else {
		e.LastScrubAt = ""
	}

	return e, nil
}
