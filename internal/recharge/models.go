package recharge

type RechargeRequest struct {
	UserID  uint   `json:"user_id"`
	Routers string `json:"routers"`
	PlanID  uint   `json:"plan_id"`
	Gateway string `json:"gateway"`
	Method  string `json:"method"`
}

type RechargeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
