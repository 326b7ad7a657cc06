package matrix

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testDeclaration = `
build:
  command: ./scripts/build-image.sh
  artifact: build/image.tar.gz
test:
  command: ./scripts/run-test.sh
  coverage: coverage.out
groups:
  - group: genesis
    timeout_minutes: 30
    required: true
    jobs:
      - test-sampled-genesis-0
      - test-sampled-genesis-1
      - test-sampled-genesis-2
  - group: atlas
    timeout_minutes: 40
    required: true
    jobs:
      - test-atlas
`

func TestMatrix_Parse(t *testing.T) {
	t.Run("success - declaration is parsed with group timeouts", func(t *testing.T) {
		// act
		decl, err := Parse([]byte(testDeclaration), 0)

		// assert
		assert.NoError(t, err)
		assert.Len(t, decl.Groups, 2)
		assert.Equal(t, "genesis", decl.Groups[0].Group)
		assert.Equal(t, int64(30), decl.Groups[0].TimeoutMinutes)
		assert.Equal(t, "atlas", decl.Groups[1].Group)
		assert.Equal(t, int64(40), decl.Groups[1].TimeoutMinutes)
	})

	t.Run("failure - duplicate job name across groups", func(t *testing.T) {
		// arrange
		dup := `
build: {command: ./build.sh, artifact: out.tar.gz}
test: {command: ./run.sh, coverage: coverage.out}
groups:
  - group: one
    timeout_minutes: 10
    jobs: [job-a]
  - group: two
    timeout_minutes: 10
    jobs: [job-a]
`
		// act
		_, err := Parse([]byte(dup), 0)

		// assert
		assert.Error(t, err)
	})

	t.Run("failure - group without timeout and no default", func(t *testing.T) {
		// arrange
		bad := `
build: {command: ./build.sh, artifact: out.tar.gz}
test: {command: ./run.sh, coverage: coverage.out}
groups:
  - group: one
    jobs: [job-a]
`
		// act
		_, err := Parse([]byte(bad), 0)

		// assert
		assert.Error(t, err)
	})

	t.Run("success - group without timeout inherits the default", func(t *testing.T) {
		// arrange
		decl := `
build: {command: ./build.sh, artifact: out.tar.gz}
test: {command: ./run.sh, coverage: coverage.out}
groups:
  - group: one
    jobs: [job-a]
`
		// act
		parsed, err := Parse([]byte(decl), 25)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, int64(25), parsed.Groups[0].TimeoutMinutes)
	})
}

func TestMatrix_Expand(t *testing.T) {
	t.Run("success - jobs inherit their group timeout in declaration order", func(t *testing.T) {
		// arrange
		decl, err := Parse([]byte(testDeclaration), 0)
		assert.NoError(t, err)

		// act
		specs := Expand(decl)

		// assert
		assert.Len(t, specs, 4)
		assert.Equal(t, "test-sampled-genesis-0", specs[0].Name)
		assert.Equal(t, "genesis", specs[0].Group)
		assert.Equal(t, 30*time.Minute, specs[0].Timeout)
		assert.Equal(t, "test-atlas", specs[3].Name)
		assert.Equal(t, "atlas", specs[3].Group)
		assert.Equal(t, 40*time.Minute, specs[3].Timeout)
	})

	t.Run("success - expanding the same declaration twice is identical", func(t *testing.T) {
		// arrange
		decl, err := Parse([]byte(testDeclaration), 0)
		assert.NoError(t, err)

		// act
		first := Expand(decl)
		second := Expand(decl)

		// assert
		assert.Equal(t, first, second)
	})
}
