package database

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"NotifyHub/pkg/errno"
	"NotifyHub/pkg/model"
)

type NotificationDB struct {
	db *gorm.DB
}

// SaveDraft 按 provisionalId 幂等写入，重复投递时返回已有记录，created 为 false
func (n *NotificationDB) SaveDraft(ctx context.Context, draft model.Draft) (*model.Notification, bool, error) {
	record := draft.Record()
	result := n.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provisional_id"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return nil, false, errno.Wrap(errno.ErrPersistence, "保存通知失败: %v", result.Error)
	}
	if result.RowsAffected == 1 {
		return record, true, nil
	}

	existing, err := n.GetByProvisionalID(ctx, draft.ProvisionalID)
	if err != nil {
		return nil, false, errno.Wrap(errno.ErrPersistence, "读取已存在的通知失败: %v", err)
	}
	return existing, false, nil
}

func (n *NotificationDB) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	var record model.Notification
	err := n.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.Wrap(errno.ErrNotFound, "通知 %s 不存在", id)
		}
		return nil, errno.Wrap(errno.ErrInternal, "获取通知失败: %v", err)
	}
	return &record, nil
}

func (n *NotificationDB) GetByProvisionalID(ctx context.Context, provisionalID string) (*model.Notification, error) {
	var record model.Notification
	err := n.db.WithContext(ctx).First(&record, "provisional_id = ?", provisionalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.Wrap(errno.ErrNotFound, "临时ID %s 没有对应的通知", provisionalID)
		}
		return nil, errno.Wrap(errno.ErrInternal, "根据临时ID获取通知失败: %v", err)
	}
	return &record, nil
}

// ListByUserChannel 按用户与渠道查询，最新的在前
func (n *NotificationDB) ListByUserChannel(ctx context.Context, userID string, channel model.Channel) ([]model.Notification, error) {
	var records []model.Notification
	err := n.db.WithContext(ctx).
		Where("target_user_id = ? AND channel = ?", userID, channel).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "timestamp"}, Desc: true},
			{Column: clause.Column{Name: "created_at"}, Desc: true},
		}}).
		Find(&records).Error
	if err != nil {
		return nil, errno.Wrap(errno.ErrInternal, "查询通知列表失败: %v", err)
	}
	return records, nil
}

// UpdateStatus 更新状态，目标状态与当前相同时不写库
func (n *NotificationDB) UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Notification, error) {
	var record model.Notification
	err := n.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&record, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errno.Wrap(errno.ErrNotFound, "通知 %s 不存在", id)
			}
			return errno.Wrap(errno.ErrInternal, "获取通知失败: %v", err)
		}
		if record.Status == status {
			return nil
		}
		if err := tx.Model(&record).Update("status", status).Error; err != nil {
			return errno.Wrap(errno.ErrInternal, "更新通知状态失败: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (n *NotificationDB) Count(ctx context.Context) (int64, error) {
	var count int64
	err := n.db.WithContext(ctx).Model(&model.Notification{}).Count(&count).Error
	return count, err
}
