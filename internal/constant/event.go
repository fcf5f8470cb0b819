package constant

const (
	ProductionEnvironment = "production"

	FillStreamName        = "fills"
	FillStreamSubjectAll  = "fills.*"
	FillStreamSubjectData = "fills.data"

	FillQueueName  = "fill_queue_insert"
	FillQueueGroup = "fill_group"
)
