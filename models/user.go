package models

import (
	"context"
	"html"
	"strings"
	"time"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/utils"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	CompanyId string    `gorm:"index;size:36" json:"company_id"`
	Email     string    `gorm:"size:255;not null;unique" json:"email" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	Role      UserRole  `gorm:"type:enum('Owner','Admin','Staff');default:Staff" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Email    string   `json:"email" binding:"required"`
	Name     string   `json:"name" binding:"required"`
	Phone    string   `json:"phone"`
	Password string   `json:"password" binding:"required"`
	Role     UserRole `json:"role"`
}

type Signup struct {
	Company NewCompany `json:"company" binding:"required"`
	Owner   NewUser    `json:"owner" binding:"required"`
}

type LoginInfo struct {
	Token       string   `json:"token"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Role        UserRole `json:"role"`
	CompanyId   string   `json:"company_id"`
	CompanyName string   `json:"company_name"`
}

func (user *User) PrepareGive() {
	user.Password = ""
}

func (input *NewUser) validate() error {
	if !utils.IsValidEmail(input.Email) {
		return utils.InvalidArgument("invalid email address")
	}
	if len(input.Password) < 8 {
		return utils.InvalidArgument("password must be at least 8 characters")
	}
	if input.Role != "" && !input.Role.Valid() {
		return utils.InvalidArgument("unknown role %q", input.Role)
	}
	return nil
}

// RegisterCompany is the public signup: tenant, trial subscription and owner
// user land in one transaction.
func RegisterCompany(ctx context.Context, input *Signup) (*Company, *User, error) {
	if err := input.Owner.validate(); err != nil {
		return nil, nil, err
	}

	hashedPassword, err := utils.HashPassword(input.Owner.Password)
	if err != nil {
		return nil, nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	company, err := createCompanyInTx(tx, &input.Company)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	user := User{
		CompanyId: company.ID.String(),
		Email:     strings.ToLower(strings.TrimSpace(input.Owner.Email)),
		Name:      html.EscapeString(strings.TrimSpace(input.Owner.Name)),
		Phone:     input.Owner.Phone,
		Password:  hashedPassword,
		Role:      UserRoleOwner,
		IsActive:  utils.NewTrue(),
	}
	if err := tx.Create(&user).Error; err != nil {
		tx.Rollback()
		if utils.IsDuplicateKeyErr(err) {
			return nil, nil, utils.Conflict("email already registered")
		}
		return nil, nil, err
	}

	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	user.PrepareGive()
	return company, &user, nil
}

func Login(ctx context.Context, email string, password string) (*LoginInfo, error) {

	db := config.GetDB()

	var user User
	err := db.WithContext(ctx).Model(&User{}).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Take(&user).Error
	if err != nil {
		return nil, utils.InvalidArgument("invalid email or password")
	}

	err = utils.ComparePassword(user.Password, password)
	if err != nil && err == bcrypt.ErrMismatchedHashAndPassword {
		return nil, utils.InvalidArgument("invalid email or password")
	} else if err != nil {
		return nil, err
	}

	if !utils.DereferencePtr(user.IsActive) {
		return nil, utils.Conflict("user is disabled")
	}

	// platform admins have no company binding
	var companyName string
	if user.CompanyId != "" {
		company, err := GetCompanyById(ctx, user.CompanyId)
		if err != nil {
			return nil, err
		}
		if !utils.DereferencePtr(company.IsActive) {
			return nil, utils.Conflict("company is disabled")
		}
		companyName = company.Name
	}

	token, err := utils.JwtGenerate(user.ID, user.CompanyId, string(user.Role))
	if err != nil {
		return nil, err
	}

	return &LoginInfo{
		Token:       token,
		Name:        user.Name,
		Email:       user.Email,
		Role:        user.Role,
		CompanyId:   user.CompanyId,
		CompanyName: companyName,
	}, nil
}

// CreateUser invites a member into the caller's company. Owners are created
// only through signup.
func CreateUser(ctx context.Context, input *NewUser) (*User, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.Role == "" {
		input.Role = UserRoleStaff
	}
	if input.Role == UserRoleOwner {
		return nil, utils.InvalidArgument("cannot create another owner")
	}

	hashedPassword, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := User{
		CompanyId: companyId,
		Email:     strings.ToLower(strings.TrimSpace(input.Email)),
		Name:      html.EscapeString(strings.TrimSpace(input.Name)),
		Phone:     input.Phone,
		Password:  hashedPassword,
		Role:      input.Role,
		IsActive:  utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return nil, utils.Conflict("email already registered")
		}
		return nil, err
	}

	user.PrepareGive()
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	user, err := utils.FetchModel[User](ctx, companyId, id)
	if err != nil {
		return nil, err
	}
	user.PrepareGive()
	return user, nil
}

func GetUsers(ctx context.Context) ([]*User, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	users, err := utils.FetchAllModels[User](ctx, companyId)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		u.PrepareGive()
	}
	return users, nil
}

type UpdateUserInput struct {
	Name     string   `json:"name"`
	Phone    string   `json:"phone"`
	Role     UserRole `json:"role"`
	IsActive *bool    `json:"is_active"`
}

func UpdateUser(ctx context.Context, id int, input *UpdateUserInput) (*User, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	user, err := utils.FetchModel[User](ctx, companyId, id)
	if err != nil {
		return nil, err
	}
	if input.Role != "" && !input.Role.Valid() {
		return nil, utils.InvalidArgument("unknown role %q", input.Role)
	}
	// the owner role can neither be granted nor taken away here
	if user.Role == UserRoleOwner && input.Role != "" && input.Role != UserRoleOwner {
		return nil, utils.Conflict("cannot demote the owner")
	}
	if user.Role != UserRoleOwner && input.Role == UserRoleOwner {
		return nil, utils.InvalidArgument("cannot promote to owner")
	}

	updates := map[string]interface{}{
		"Name":  input.Name,
		"Phone": input.Phone,
	}
	if input.Role != "" {
		updates["Role"] = input.Role
	}
	if input.IsActive != nil {
		if user.Role == UserRoleOwner && !*input.IsActive {
			return nil, utils.Conflict("cannot disable the owner")
		}
		updates["IsActive"] = *input.IsActive
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, err
	}

	user, err = utils.FetchModel[User](ctx, companyId, id)
	if err != nil {
		return nil, err
	}
	user.PrepareGive()
	return user, nil
}

func DeleteUser(ctx context.Context, id int) (*User, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}

	user, err := utils.FetchModel[User](ctx, companyId, id)
	if err != nil {
		return nil, err
	}
	if user.Role == UserRoleOwner {
		return nil, utils.Conflict("cannot delete the owner")
	}
	if callerId, ok := utils.GetUserIdFromContext(ctx); ok && callerId == id {
		return nil, utils.Conflict("cannot delete yourself")
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(user).Error; err != nil {
		return nil, err
	}

	user.PrepareGive()
	return user, nil
}

func ChangePassword(ctx context.Context, oldPassword string, newPassword string) (*User, error) {
	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId == "" {
		return nil, utils.InvalidArgument("company id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, utils.InvalidArgument("user id is required")
	}
	if len(newPassword) < 8 {
		return nil, utils.InvalidArgument("password must be at least 8 characters")
	}

	user, err := utils.FetchModel[User](ctx, companyId, userId)
	if err != nil {
		return nil, err
	}
	if err := utils.ComparePassword(user.Password, oldPassword); err != nil {
		return nil, utils.InvalidArgument("invalid password")
	}

	hashedPassword, err := utils.HashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(user).Update("Password", hashedPassword).Error; err != nil {
		return nil, err
	}

	user.PrepareGive()
	return user, nil
}
