package config

type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Grants        GrantsConfig        `mapstructure:"grants"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`

	NOFOBucket     string `mapstructure:"nofo_bucket"`
	FeedbackBucket string `mapstructure:"feedback_bucket"`

	NOFOTable     string `mapstructure:"nofo_table"`
	SessionTable  string `mapstructure:"session_table"`
	FeedbackTable string `mapstructure:"feedback_table"`
	DraftTable    string `mapstructure:"draft_table"`

	KnowledgeBaseID string `mapstructure:"knowledge_base_id"`
	DataSourceID    string `mapstructure:"data_source_id"`

	ChatModelID     string `mapstructure:"chat_model_id"`
	TitleModelID    string `mapstructure:"title_model_id"`
	ClassifyModelID string `mapstructure:"classify_model_id"`

	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

type GrantsConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`

	PageSize int `mapstructure:"page_size"`
	MaxPages int `mapstructure:"max_pages"`

	OpportunityDelayMS int `mapstructure:"opportunity_delay_ms"`
	PageDelayMS        int `mapstructure:"page_delay_ms"`

	Timeout int `mapstructure:"timeout"` // milliseconds
}

type ChatConfig struct {
	MaxToolRounds  int     `mapstructure:"max_tool_rounds"`
	ScoreThreshold float64 `mapstructure:"score_threshold"`
	ResultCount    int     `mapstructure:"result_count"`
}

type DatabaseConfig struct {
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ObservabilityConfig struct {
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}
