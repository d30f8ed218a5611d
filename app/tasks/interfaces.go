package tasks

// TaskSchedulerInterface is the contract the main application uses to manage
// background processing: the worker pool, the periodic ticker, and ad-hoc
// task submission.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}
