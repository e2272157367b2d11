package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"escrowdesk/internal/chain"
	"escrowdesk/internal/models"
	"escrowdesk/internal/utils"
)

// Общие структуры запросов и ответов для Swagger и тестов

type RegisterRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	WalletAddress   string `json:"wallet_address"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type Enable2FARequest struct {
	Password string `json:"password"`
}

type Enable2FAResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

type WalletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

type ProfileResponse struct {
	ID            string          `json:"id"`
	Username      string          `json:"username"`
	Role          models.UserRole `json:"role"`
	TwoFAEnabled  bool            `json:"twofa_enabled"`
	WalletAddress string          `json:"wallet_address"`
}

// Register godoc
// @Summary Регистрация пользователя
// @Description Создаёт пользователя с уникальным именем и хешем пароля, сразу выдаёт пару токенов
// @Tags auth
// @Accept json
// @Produce json
// @Param input body RegisterRequest true "данные регистрации"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/register [post]
func Register(db *gorm.DB, ttl map[string]time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var r RegisterRequest
		if err := c.BindJSON(&r); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
			return
		}
		r.Username = strings.TrimSpace(r.Username)
		if r.Username == "" || r.Password == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "username and password required"})
			return
		}
		if r.Password != r.PasswordConfirm {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "passwords do not match"})
			return
		}
		if r.WalletAddress != "" && !chain.IsAddress(r.WalletAddress) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid wallet address"})
			return
		}
		var count int64
		db.Model(&models.User{}).Where("username = ?", r.Username).Count(&count)
		if count > 0 {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "username exists"})
			return
		}
		pwdHash, err := bcrypt.GenerateFromPassword([]byte(r.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "hash error"})
			return
		}
		pwd := string(pwdHash)
		user := models.User{
			Username:      r.Username,
			Password:      &pwd,
			Role:          models.UserRoleUser,
			WalletAddress: r.WalletAddress,
		}
		if err := db.Create(&user).Error; err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		resp, err := issueTokens(db, user.ID, ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// Login godoc
// @Summary Вход пользователя
// @Description Аутентифицирует пользователя и выдаёт пару токенов. При включённой 2FA требуется код.
// @Tags auth
// @Accept json
// @Produce json
// @Param input body LoginRequest true "учётные данные"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func Login(db *gorm.DB, ttl map[string]time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var r LoginRequest
		if err := c.BindJSON(&r); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
			return
		}
		var user models.User
		if err := db.Where("username = ?", r.Username).First(&user).Error; err != nil {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		if user.Password == nil || bcrypt.CompareHashAndPassword([]byte(*user.Password), []byte(r.Password)) != nil {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		if user.TwoFAEnabled {
			if r.Code == "" || user.TOTPSecret == nil || !totp.Validate(r.Code, *user.TOTPSecret) {
				c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid code"})
				return
			}
		}
		resp, err := issueTokens(db, user.ID, ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// Refresh godoc
// @Summary Обновление access токена
// @Tags auth
// @Accept json
// @Produce json
// @Param input body RefreshRequest true "refresh токен"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func Refresh(db *gorm.DB, ttl map[string]time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var r RefreshRequest
		if err := c.BindJSON(&r); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
			return
		}
		var token models.Token
		if err := db.Where("token = ? AND type = ?", r.RefreshToken, models.TokenTypeRefresh).First(&token).Error; err != nil {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}
		if token.ExpiresAt.Before(time.Now()) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "token expired"})
			return
		}
		// refresh одноразовый: повторное использование того же токена не пройдёт
		res := db.Where("id = ?", token.ID).Delete(&models.Token{})
		if res.Error != nil || res.RowsAffected == 0 {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}
		resp, err := issueTokens(db, token.UserID, ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// Logout godoc
// @Summary Выход пользователя
// @Description Отзывает все токены пользователя
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} StatusResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/logout [post]
func Logout(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		db.Where("user_id = ?", userID).Delete(&models.Token{})
		c.JSON(http.StatusOK, StatusResponse{Status: "logged out"})
	}
}

// Profile godoc
// @Summary Профиль пользователя
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} ProfileResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/profile [get]
func Profile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := loadUser(c, db)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, ProfileResponse{
			ID:            user.ID,
			Username:      user.Username,
			Role:          user.Role,
			TwoFAEnabled:  user.TwoFAEnabled,
			WalletAddress: user.WalletAddress,
		})
	}
}

// UpdateWallet godoc
// @Summary Адрес кошелька пользователя
// @Description Адрес используется как получатель средств при создании эскроу по доменной сделке
// @Tags auth
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param input body WalletRequest true "адрес кошелька"
// @Success 200 {object} StatusResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/wallet [put]
func UpdateWallet(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var r WalletRequest
		if err := c.BindJSON(&r); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
			return
		}
		if !chain.IsAddress(r.WalletAddress) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid wallet address"})
			return
		}
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		if err := db.Model(&models.User{}).Where("id = ?", userID).
			Update("wallet_address", r.WalletAddress).Error; err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		c.JSON(http.StatusOK, StatusResponse{Status: "wallet updated"})
	}
}

// Enable2FA godoc
// @Summary Включение двухфакторной аутентификации
// @Tags auth
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param input body Enable2FARequest true "подтверждение пароля"
// @Success 200 {object} Enable2FAResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/2fa/enable [post]
func Enable2FA(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var r Enable2FARequest
		if err := c.BindJSON(&r); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
			return
		}
		user, ok := loadUser(c, db)
		if !ok {
			return
		}
		if user.Password == nil || bcrypt.CompareHashAndPassword([]byte(*user.Password), []byte(r.Password)) != nil {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid password"})
			return
		}
		if user.TwoFAEnabled {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "2fa already enabled"})
			return
		}
		key, err := totp.Generate(totp.GenerateOpts{Issuer: "escrowdesk", AccountName: user.Username})
		if err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "totp error"})
			return
		}
		secret := key.Secret()
		user.TwoFAEnabled = true
		user.TOTPSecret = &secret
		if err := db.Save(&user).Error; err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
			return
		}
		c.JSON(http.StatusOK, Enable2FAResponse{Secret: secret, URL: key.URL()})
	}
}

// AuthMiddleware проверяет access-токен из заголовка Authorization или
// параметра token (для websocket) и кладёт в контекст id и роль пользователя.
func AuthMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization"})
				return
			}
			tokenStr = parts[1]
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization"})
			return
		}
		var token models.Token
		if err := db.Where("token = ? AND type = ?", tokenStr, models.TokenTypeAccess).First(&token).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}
		if token.ExpiresAt.Before(time.Now()) {
			db.Delete(&token)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "token expired"})
			return
		}
		var user models.User
		if err := db.Select("id", "role").Where("id = ?", token.UserID).First(&user).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid user"})
			return
		}
		c.Set("client_id", user.ID)
		c.Set("client_role", user.Role)
		c.Next()
	}
}

// AdminOnly пропускает только администраторов; ставится после AuthMiddleware.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get("client_role")
		if r, _ := role.(models.UserRole); r != models.UserRoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "admin only", Code: "FORBIDDEN"})
			return
		}
		c.Next()
	}
}

func currentUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get("client_id")
	id, _ := v.(string)
	if !ok || id == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "no client"})
		return "", false
	}
	return id, true
}

func loadUser(c *gin.Context, db *gorm.DB) (models.User, bool) {
	var user models.User
	userID, ok := currentUserID(c)
	if !ok {
		return user, false
	}
	if err := db.Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid client"})
		} else {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "db error"})
		}
		return user, false
	}
	return user, true
}

func issueTokens(db *gorm.DB, userID string, ttl map[string]time.Duration) (TokenResponse, error) {
	accessStr, err := utils.GenerateNanoID()
	if err != nil {
		return TokenResponse{}, err
	}
	refreshStr, err := utils.GenerateNanoID()
	if err != nil {
		return TokenResponse{}, err
	}
	now := time.Now()
	tokens := []models.Token{
		{UserID: userID, Token: accessStr, Type: models.TokenTypeAccess, ExpiresAt: now.Add(ttl[models.TokenTypeAccess])},
		{UserID: userID, Token: refreshStr, Type: models.TokenTypeRefresh, ExpiresAt: now.Add(ttl[models.TokenTypeRefresh])},
	}
	if err := db.Create(&tokens).Error; err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{AccessToken: accessStr, RefreshToken: refreshStr}, nil
}
