package elb

type TargetHealth struct {
	InstanceID  string
	Port        int
	State       string // "initial" / "healthy" / "unhealthy" / "unused" / "draining"
	Reason      string
	Description string
}
