package service

import (
	"context"
	"strings"

	"NotifyHub/pkg/database"
	"NotifyHub/pkg/errno"
	"NotifyHub/pkg/logger"
	"NotifyHub/pkg/model"
)

// UserStore 用户目录存储
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, userID string) (*model.User, error)
	ListActive(ctx context.Context) ([]model.User, error)
	Update(ctx context.Context, userID string, patch database.UserPatch) (*model.User, error)
}

// CreateUserRequest 创建用户请求
type CreateUserRequest struct {
	Name     string `json:"name" binding:"required"`
	LastName string `json:"lastName" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
}

// UpdateUserRequest 部分更新，未出现的字段不修改
type UpdateUserRequest struct {
	Name     *string `json:"name"`
	LastName *string `json:"lastName"`
	Email    *string `json:"email" binding:"omitempty,email"`
	IsActive *bool   `json:"isActive"`
}

type UserService struct {
	store UserStore
}

func NewUserService(store UserStore) *UserService {
	return &UserService{store: store}
}

func (s *UserService) Create(ctx context.Context, req CreateUserRequest) (*model.User, error) {
	name := strings.TrimSpace(req.Name)
	lastName := strings.TrimSpace(req.LastName)
	if name == "" || lastName == "" {
		return nil, errno.Validation("name 和 lastName 不能为空")
	}
	email := model.NormalizeEmail(req.Email)
	if !model.ValidEmail(email) {
		return nil, errno.Validation("邮箱格式不正确: %s", req.Email)
	}

	user := &model.User{
		Name:     name,
		LastName: lastName,
		Email:    email,
		IsActive: true,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}

	logger.WithField("userId", user.ID).Info("用户已创建")
	return user, nil
}

func (s *UserService) Get(ctx context.Context, userID string) (*model.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errno.Validation("userId 不能为空")
	}
	return s.store.GetByID(ctx, userID)
}

// List 活跃用户，最新注册的在前
func (s *UserService) List(ctx context.Context) ([]model.User, error) {
	return s.store.ListActive(ctx)
}

func (s *UserService) Update(ctx context.Context, userID string, req UpdateUserRequest) (*model.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errno.Validation("userId 不能为空")
	}

	var patch database.UserPatch
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, errno.Validation("name 不能为空")
		}
		patch.Name = &name
	}
	if req.LastName != nil {
		lastName := strings.TrimSpace(*req.LastName)
		if lastName == "" {
			return nil, errno.Validation("lastName 不能为空")
		}
		patch.LastName = &lastName
	}
	if req.Email != nil {
		email := model.NormalizeEmail(*req.Email)
		if !model.ValidEmail(email) {
			return nil, errno.Validation("邮箱格式不正确: %s", *req.Email)
		}
		patch.Email = &email
	}
	patch.IsActive = req.IsActive

	return s.store.Update(ctx, userID, patch)
}
