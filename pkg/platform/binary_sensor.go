package platform

import "tailwind/internal/entity"

// BinarySensor is the platform name for on/off entities
const BinarySensor = "binary_sensor"

type binarySensor[T any] struct {
	view   *entity.View[T, bool]
	name   string
	device DeviceInfo
}

// NewBinarySensor exposes a boolean view as a host platform entity
func NewBinarySensor[T any](view *entity.View[T, bool], name string, device DeviceInfo) Entity {
	return &binarySensor[T]{
		view:   view,
		name:   name,
		device: device,
	}
}

func (b *binarySensor[T]) UniqueID() string { return b.view.UniqueID() }

func (b *binarySensor[T]) Platform() string { return BinarySensor }

func (b *binarySensor[T]) Category() entity.Category { return b.view.Category() }

func (b *binarySensor[T]) Value() (any, error) {
	isOn, err := b.view.Value()
	if err != nil {
		return nil, err
	}
	return isOn, nil
}

func (b *binarySensor[T]) State() EntityState {
	return b.render(b.view.Last())
}

func (b *binarySensor[T]) OnChange(fn func(EntityState)) Subscription {
	return b.view.OnChange(func(change entity.Change[bool]) {
		fn(b.render(change))
	})
}

func (b *binarySensor[T]) Sync() { b.view.Sync() }

func (b *binarySensor[T]) Close() { b.view.Close() }

func (b *binarySensor[T]) render(change entity.Change[bool]) EntityState {
	descriptor := b.view.Descriptor()

	state := EntityState{
		UniqueID:       b.view.UniqueID(),
		Platform:       BinarySensor,
		Key:            descriptor.Key,
		EntityID:       b.view.EntityID(),
		Name:           b.name,
		TranslationKey: descriptor.TranslationKey,
		Icon:           descriptor.Icon,
		Category:       descriptor.Category.String(),
		State:          change.State.String(),
		Device:         b.device,
	}
	if change.State == entity.StateAvailable {
		state.Value = change.Value
	}
	if change.Err != nil {
		state.Error = change.Err.Error()
	}
	return state
}
