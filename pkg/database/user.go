// pkg/database/user.go
package database

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"NotifyHub/pkg/errno"
	"NotifyHub/pkg/model"
)

type UserDB struct {
	db *gorm.DB
}

// UserPatch 部分更新字段，nil 表示不修改
type UserPatch struct {
	Name     *string
	LastName *string
	Email    *string
	IsActive *bool
}

func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	exists, err := u.ExistsByEmail(ctx, user.Email, "")
	if err != nil {
		return errno.Wrap(errno.ErrInternal, "检查邮箱失败: %v", err)
	}
	if exists {
		return errno.Wrap(errno.ErrDuplicateKey, "邮箱 %s 已存在", user.Email)
	}

	if err := u.db.WithContext(ctx).Create(user).Error; err != nil {
		if isDuplicateKey(err) {
			return errno.Wrap(errno.ErrDuplicateKey, "邮箱 %s 已存在", user.Email)
		}
		return errno.Wrap(errno.ErrInternal, "创建用户失败: %v", err)
	}
	return nil
}

func (u *UserDB) GetByID(ctx context.Context, userID string) (*model.User, error) {
	var user model.User
	err := u.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.Wrap(errno.ErrNotFound, "用户 %s 不存在", userID)
		}
		return nil, errno.Wrap(errno.ErrInternal, "获取用户信息失败: %v", err)
	}
	return &user, nil
}

// ListActive 活跃用户，最新注册的在前
func (u *UserDB) ListActive(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := u.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at DESC").
		Find(&users).Error
	if err != nil {
		return nil, errno.Wrap(errno.ErrInternal, "查询活跃用户失败: %v", err)
	}
	return users, nil
}

func (u *UserDB) Update(ctx context.Context, userID string, patch UserPatch) (*model.User, error) {
	updates := make(map[string]interface{})
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.LastName != nil {
		updates["last_name"] = *patch.LastName
	}
	if patch.Email != nil {
		exists, err := u.ExistsByEmail(ctx, *patch.Email, userID)
		if err != nil {
			return nil, errno.Wrap(errno.ErrInternal, "检查邮箱失败: %v", err)
		}
		if exists {
			return nil, errno.Wrap(errno.ErrDuplicateKey, "邮箱 %s 已存在", *patch.Email)
		}
		updates["email"] = *patch.Email
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}

	user, err := u.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return user, nil
	}

	if err := u.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, errno.Wrap(errno.ErrDuplicateKey, "邮箱已存在")
		}
		return nil, errno.Wrap(errno.ErrInternal, "更新用户信息失败: %v", err)
	}
	return u.GetByID(ctx, userID)
}

// ExistsByEmail 判断邮箱是否被占用，excludeID 非空时排除该用户
func (u *UserDB) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	var count int64
	query := u.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	err := query.Count(&count).Error
	return count > 0, err
}

func (u *UserDB) ExistsByID(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := u.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Count(&count).Error
	return count > 0, err
}

func (u *UserDB) GetActiveCount(ctx context.Context) (int64, error) {
	var count int64
	err := u.db.WithContext(ctx).Model(&model.User{}).Where("is_active = ?", true).Count(&count).Error
	return count, err
}
