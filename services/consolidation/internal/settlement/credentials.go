package settlement

import "context"

// CredentialsProvider 다운스트림 인증 헤더 공급자
type CredentialsProvider interface {
	AuthHeaders(ctx context.Context) (map[string]string, error)
}

// StaticCredentials 고정 토큰 기반 인증 헤더
type StaticCredentials struct {
	Token string
}

// AuthHeaders 토큰이 비어 있으면 빈 헤더를 반환
func (c StaticCredentials) AuthHeaders(ctx context.Context) (map[string]string, error) {
	if c.Token == "" {
		return map[string]string{}, nil
	}
	return map[string]string{"Authorization": "Bearer " + c.Token}, nil
}
