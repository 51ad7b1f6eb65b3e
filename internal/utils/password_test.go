package utils

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

// PasswordTestSuite 密钥哈希测试套件
type PasswordTestSuite struct {
	suite.Suite
}

func (suite *PasswordTestSuite) TestHashPassword() {
	hash, err := HashPassword("operator-key-123")
	suite.Require().NoError(err)
	suite.True(strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=1,p=4$"))
	suite.Len(strings.Split(hash, "$"), 6)

	ok, err := VerifyPassword("operator-key-123", hash)
	suite.NoError(err)
	suite.True(ok)

	ok, err = VerifyPassword("operator-key-124", hash)
	suite.NoError(err)
	suite.False(ok)
}

// 相同密钥每次盐不同
func (suite *PasswordTestSuite) TestHashUniqueness() {
	h1, err := HashPassword("same")
	suite.Require().NoError(err)
	h2, err := HashPassword("same")
	suite.Require().NoError(err)
	suite.NotEqual(h1, h2)
}

func (suite *PasswordTestSuite) TestHashPasswordWithConfig() {
	cfg := &PasswordConfig{Time: 2, Memory: 8 * 1024, Threads: 1, KeyLen: 16}
	hash, err := HashPasswordWithConfig("key", cfg)
	suite.Require().NoError(err)
	suite.Contains(hash, "m=8192,t=2,p=1")

	ok, err := VerifyPassword("key", hash)
	suite.NoError(err)
	suite.True(ok)
}

func (suite *PasswordTestSuite) TestVerifyPasswordWithInvalidHash() {
	cases := []string{
		"",
		"plain",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=4$!!!$aGFzaA",
	}
	for _, encoded := range cases {
		ok, err := VerifyPassword("key", encoded)
		suite.Error(err, encoded)
		suite.False(ok)
	}
}

func (suite *PasswordTestSuite) TestGenerateRandomString() {
	s1, err := GenerateRandomString(24)
	suite.Require().NoError(err)
	s2, err := GenerateRandomString(24)
	suite.Require().NoError(err)
	suite.Len(s1, 24)
	suite.NotEqual(s1, s2)
}

func (suite *PasswordTestSuite) TestConcurrentHashing() {
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hash, err := HashPassword("concurrent")
			suite.NoError(err)
			ok, _ := VerifyPassword("concurrent", hash)
			suite.True(ok)
		}()
	}
	wg.Wait()
}

func TestPasswordSuite(t *testing.T) {
	suite.Run(t, new(PasswordTestSuite))
}
