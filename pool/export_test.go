package pool

// CheckHealthNow runs one health check round synchronously.
func (p *Pool) CheckHealthNow() {
	p.checkHealth()
}
