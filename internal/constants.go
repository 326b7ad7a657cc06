package internal

const (
	DotEnvPath         = "./.env"
	MigrationsDir      = "migrations"
	RunDirLayout       = "20060102_150405000"
	DBTimestampLayout  = "2006-01-02 15:04:05"
	TriggerKeyHeader   = "X-MatrixCI-Trigger-Key"
	CoverageNameHeader = "X-Coverage-Job-Name"
	CoverageLaneHeader = "X-Coverage-Lane"
	DefaultMatrixPath  = "matrix.yml"
	DefaultArtifactDir = "artifacts"
	DefaultCoverageDir = "coverage"
)
