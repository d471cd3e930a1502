package notify

import (
	"fmt"

	"tinnicap/internal/adapter/dto"
	"tinnicap/internal/domain"
)

// ViolationNotice words a violation the way the menu bar app always has.
func ViolationNotice(v domain.Violation) dto.Notice {
	if v.Mode == domain.ModeWarning {
		return dto.Notice{
			Title:   "Volume Limit Warning",
			Message: fmt.Sprintf("%s volume (%d%%) exceeds limit of %d%%", v.Device.Name, domain.Percent(v.Attempted), domain.Percent(v.Limit)),
		}
	}
	return dto.Notice{
		Title:   "Volume Limited",
		Message: fmt.Sprintf("%s volume capped at %d%%", v.Device.Name, domain.Percent(v.Limit)),
	}
}

// LimitSetNotice confirms a new limit.
func LimitSetNotice(name string, limit float64) dto.Notice {
	return dto.Notice{
		Title:   "Limit Set",
		Message: fmt.Sprintf("Volume limit for %s set to %d%%", name, domain.Percent(limit)),
	}
}

// LimitRemovedNotice confirms a removed limit.
func LimitRemovedNotice(name string) dto.Notice {
	return dto.Notice{
		Title:   "Limit Removed",
		Message: fmt.Sprintf("Volume limit for %s has been removed", name),
	}
}
