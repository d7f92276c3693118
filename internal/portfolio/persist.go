package portfolio

import (
	"errors"

	"github.com/betbot/ordercore/pkg/persistence"
)

const stateTag = "portfolio"

// Save 保存余额快照
func (p *Portfolio) Save(svc persistence.Service, id string) error {
	return svc.NewStore("state", id, stateTag).Save(p.Snapshot())
}

// Load 恢复余额快照。未结订单不会跨进程保留，因此恢复后可用额 = 总额、占用清空。
// 没有快照时返回 false。
func (p *Portfolio) Load(svc persistence.Service, id string) (bool, error) {
	var saved map[string]Balance
	if err := svc.NewStore("state", id, stateTag).Load(&saved); err != nil {
		if errors.Is(err, persistence.ErrNotExists) {
			return false, nil
		}
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances = make(map[string]*Balance, len(saved))
	for asset, b := range saved {
		p.balances[asset] = &Balance{Total: b.Total, Available: b.Total}
	}
	p.reservations = make(map[string]reservation)
	p.log.WithField("assets", len(saved)).Info("已恢复资金快照")
	return true, nil
}
