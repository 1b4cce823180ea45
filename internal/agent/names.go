package agent

// Agent names
const (
	Collector   = "collector"
	Analyzer    = "analyzer"
	Recommender = "recommender"
	Reporter    = "reporter"
	Insight     = "insight"
)

// Task types handled by the agents
const (
	TaskCollectData     = "collect_data"
	TaskAnalyze         = "analyze"
	TaskRecommend       = "recommend"
	TaskGenerateReport  = "generate_report"
	TaskSendAlert       = "send_alert"
	TaskHealthCheck     = "health_check"
	TaskCleanup         = "cleanup"
	TaskInsightAnalysis = "insight_analysis"
)
