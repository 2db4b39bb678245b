package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// BOM权限。"bom:*" 覆盖整个 bom 权限族，"*" 覆盖一切
const (
	PermissionRead    = "bom:read"
	PermissionWrite   = "bom:write"
	PermissionApprove = "bom:approve"
	PermissionAll     = "*"
)

// DefaultCompany 请求未指定公司时的归属
const DefaultCompany = "default"

// Claims 令牌声明。company 为用户所属公司，可被 my_company_name 请求头覆盖
type Claims struct {
	UserID      string   `json:"uid"`
	Name        string   `json:"name"`
	Company     string   `json:"company,omitempty"`
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

func bearerToken(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// JWTAuth 校验HS256令牌（本服务不签发令牌），把用户与权限写入上下文
func JWTAuth(secret string) gin.HandlerFunc {
	keyFunc := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abort(c, http.StatusUnauthorized, 40100, "Authorization is required")
			return
		}
		claims := &Claims{}
		if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
			abort(c, http.StatusUnauthorized, 40102, "Invalid or expired token")
			return
		}
		if claims.UserID == "" {
			claims.UserID = claims.Subject
		}
		if claims.UserID == "" {
			abort(c, http.StatusUnauthorized, 40103, "Token has no user")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserName, claims.Name)
		c.Set(ContextPermissions, claims.Permissions)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// Company 解析请求所属公司：my_company_name 请求头优先，其次令牌中的 company，最后 DefaultCompany。
// 须挂在 JWTAuth 之后
func Company() gin.HandlerFunc {
	return func(c *gin.Context) {
		company := strings.TrimSpace(c.GetHeader(CompanyHeader))
		if company == "" {
			if claims, ok := c.Get(ContextClaims); ok {
				if cl, ok := claims.(*Claims); ok {
					company = strings.TrimSpace(cl.Company)
				}
			}
		}
		if company == "" {
			company = DefaultCompany
		}
		c.Set(ContextCompany, company)
		c.Next()
	}
}

// CompanyFrom 取 Company 中间件解析出的公司，未挂载时为 DefaultCompany
func CompanyFrom(c *gin.Context) string {
	if company := c.GetString(ContextCompany); company != "" {
		return company
	}
	return DefaultCompany
}

// Permits 判断已授予的权限是否覆盖 want。支持 "*" 与 "<族>:*"
func Permits(granted []string, want string) bool {
	family, _, _ := strings.Cut(want, ":")
	for _, p := range granted {
		switch p {
		case want, PermissionAll, family + ":*":
			return true
		}
	}
	return false
}

// RequirePermission 要求令牌带有 permission（或覆盖它的通配权限）
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		granted, _ := c.Get(ContextPermissions)
		perms, _ := granted.([]string)
		if !Permits(perms, permission) {
			abort(c, http.StatusForbidden, 40302, "Permission denied: "+permission)
			return
		}
		c.Next()
	}
}
